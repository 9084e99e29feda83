package health

import "errors"

var (
    ErrConstruction   = errors.New("health: too few healthy connections")
    ErrClosed         = errors.New("health: registry closed")
    ErrNoHealthyNodes = errors.New("health: no healthy connections")
    ErrNoConnections  = errors.New("health: no connections configured")
    ErrDuplicateID    = errors.New("health: duplicate connection id")
    ErrEmptyID        = errors.New("health: empty connection id")
    ErrNoResources    = errors.New("health: node reports no resources")
    ErrRingNotReady   = errors.New("health: ring below minimum size")
)
