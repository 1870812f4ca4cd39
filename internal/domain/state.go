package domain

import (
	"errors"
	"fmt"
)

// State enumerates the lifecycle of a WorkItem. Values are persisted.
type State int

const (
	StatePending State = iota
	StateExtracting
	StateExtractionFailed
	StateExtracted
	StateGeneratingAudio
	StateAudioGenerationFailed
	StateAudioReady
	StatePlaying
	StatePlayed
)

// ErrInvalidTransition is returned when a move is not on the state graph.
var ErrInvalidTransition = errors.New("invalid state transition")

// TransitionError describes a rejected move.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid state transition %s -> %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

var stateNames = map[State]string{
	StatePending:               "pending",
	StateExtracting:            "extracting",
	StateExtractionFailed:      "extraction-failed",
	StateExtracted:             "extracted",
	StateGeneratingAudio:       "generating-audio",
	StateAudioGenerationFailed: "audio-generation-failed",
	StateAudioReady:            "audio-ready",
	StatePlaying:               "playing",
	StatePlayed:                "played",
}

var displayNames = map[State]string{
	StatePending:               "Waiting",
	StateExtracting:            "Extracting...",
	StateExtractionFailed:      "Extraction Failed",
	StateExtracted:             "Extracted",
	StateGeneratingAudio:       "Generating Audio...",
	StateAudioGenerationFailed: "Audio Failed",
	StateAudioReady:            "Ready",
	StatePlaying:               "Playing",
	StatePlayed:                "Played",
}

// transitions is the forward graph. Retry and orphan reset back to pending are
// handled by WorkItem.Retry and WorkItem.ResetOrphan.
var transitions = map[State][]State{
	StatePending:               {StateExtracting},
	StateExtractionFailed:      {StateExtracting},
	StateAudioGenerationFailed: {StateExtracting},
	StateExtracting:            {StateExtracted, StateExtractionFailed},
	StateExtracted:             {StateGeneratingAudio, StateAudioGenerationFailed},
	StateGeneratingAudio:       {StateAudioReady, StateAudioGenerationFailed},
	StateAudioReady:            {StatePlaying},
	StatePlaying:               {StatePlayed},
	StatePlayed:                {StatePlaying},
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// DisplayName is the label shown in queue lists.
func (s State) DisplayName() string {
	if name, ok := displayNames[s]; ok {
		return name
	}
	return s.String()
}

// Valid reports whether s is one of the nine known states.
func (s State) Valid() bool {
	_, ok := stateNames[s]
	return ok
}

func (s State) IsError() bool {
	return s == StateExtractionFailed || s == StateAudioGenerationFailed
}

func (s State) IsProcessing() bool {
	return s == StateExtracting || s == StateGeneratingAudio
}

func (s State) CanRetry() bool {
	return s.IsError()
}

func (s State) CanPlay() bool {
	return s == StateAudioReady || s == StatePlaying || s == StatePlayed
}

// ParseState resolves a state by its persisted name.
func ParseState(name string) (State, error) {
	for s, n := range stateNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown state %q", name)
}

// CanTransition reports whether from -> to is an edge of the graph.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the item to the next state if the graph allows it.
func (w *WorkItem) Transition(to State) error {
	if !CanTransition(w.State, to) {
		return &TransitionError{From: w.State, To: to}
	}
	w.State = to
	return nil
}
