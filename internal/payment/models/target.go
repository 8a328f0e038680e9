package models

import (
	"strings"

	dErrors "circlesphere/pkg/domain-errors"
)

// Kind identifies what a payment pays for.
type Kind string

const (
	KindMembership Kind = "membership"
	KindEvent      Kind = "event"
)

func (k Kind) IsValid() bool {
	return k == KindMembership || k == KindEvent
}

// Metadata keys carried on the provider session.
const (
	MetadataKind    = "kind"
	MetadataClubID  = "club_id"
	MetadataEventID = "event_id"
)

// Target is the thing a payment unlocks: a club membership or an event seat.
type Target interface {
	Kind() Kind
	Ref() string
	Metadata() map[string]string
	isTarget()
}

type ClubTarget struct {
	ClubID string
}

func (t ClubTarget) Kind() Kind  { return KindMembership }
func (t ClubTarget) Ref() string { return t.ClubID }
func (t ClubTarget) isTarget()   {}

func (t ClubTarget) Metadata() map[string]string {
	return map[string]string{MetadataKind: string(KindMembership), MetadataClubID: t.ClubID}
}

type EventTarget struct {
	EventID string
}

func (t EventTarget) Kind() Kind  { return KindEvent }
func (t EventTarget) Ref() string { return t.EventID }
func (t EventTarget) isTarget()   {}

func (t EventTarget) Metadata() map[string]string {
	return map[string]string{MetadataKind: string(KindEvent), MetadataEventID: t.EventID}
}

// NewTarget builds a target from a kind and a reference.
func NewTarget(kind Kind, ref string) (Target, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "target reference is required")
	}
	switch kind {
	case KindMembership:
		return ClubTarget{ClubID: ref}, nil
	case KindEvent:
		return EventTarget{EventID: ref}, nil
	default:
		return nil, dErrors.New(dErrors.CodeValidation, "unknown payment kind: "+string(kind))
	}
}

// TargetFromMetadata decodes session metadata written by Metadata.
func TargetFromMetadata(md map[string]string) (Target, error) {
	if len(md) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "payment metadata is missing")
	}
	kind := Kind(md[MetadataKind])
	switch kind {
	case KindMembership:
		return NewTarget(kind, md[MetadataClubID])
	case KindEvent:
		return NewTarget(kind, md[MetadataEventID])
	case "":
		return nil, dErrors.New(dErrors.CodeValidation, "payment metadata has no kind")
	default:
		return nil, dErrors.New(dErrors.CodeValidation, "unknown payment kind: "+string(kind))
	}
}
