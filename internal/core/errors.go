package core

import (
	"errors"
	"fmt"
)

// ErrEmptyName is returned when a farmer name is blank after trimming.
var ErrEmptyName = errors.New("farmer name must not be empty")

// ErrNotFound indicates a lookup for an entity id that is not stored.
type ErrNotFound struct {
	Entity EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// CascadeStage names one persisted step of a farmer delete.
type CascadeStage string

// Farmer deletes run these stages in order, children first.
const (
	StageHistory   CascadeStage = "history"
	StageLandPlots CascadeStage = "land_plots"
	StageFarmer    CascadeStage = "farmer"
)

// CascadeError reports the stage at which a farmer delete stopped. Stages
// before it have already been persisted.
type CascadeError struct {
	Stage    CascadeStage
	FarmerID FarmerID
	Err      error
}

func (e *CascadeError) Error() string {
	return fmt.Sprintf("delete farmer %s: stage %s: %v", e.FarmerID, e.Stage, e.Err)
}

func (e *CascadeError) Unwrap() error { return e.Err }
