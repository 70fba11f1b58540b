package models

import "time"

type ArtifactStatus string

const (
	ArtifactPending   ArtifactStatus = "pending"
	ArtifactCompleted ArtifactStatus = "completed"
	ArtifactFailed    ArtifactStatus = "failed"
)

// ArtifactKind names one precomputed artifact.
type ArtifactKind string

const (
	ArtifactSummary      ArtifactKind = "summary"
	ArtifactOverview     ArtifactKind = "overview"
	ArtifactShortSummary ArtifactKind = "short_summary"
	ArtifactQuestions    ArtifactKind = "questions"
)

// TextKinds are the artifacts produced by the summary step, in generation order.
var TextKinds = []ArtifactKind{ArtifactSummary, ArtifactOverview, ArtifactShortSummary}

type TextArtifact struct {
	Content     string         `json:"content" bson:"content"`
	Status      ArtifactStatus `json:"status" bson:"status"`
	GeneratedAt *time.Time     `json:"generatedAt,omitempty" bson:"generated_at,omitempty"`
}

// Usable reports whether the artifact can ground an answer.
func (a TextArtifact) Usable() bool {
	return a.Status == ArtifactCompleted && a.Content != ""
}

type QAPair struct {
	Question string `json:"question" bson:"question"`
	Answer   string `json:"answer" bson:"answer"`
}

type QuestionSet struct {
	Items       []QAPair       `json:"items" bson:"items"`
	Status      ArtifactStatus `json:"status" bson:"status"`
	GeneratedAt *time.Time     `json:"generatedAt,omitempty" bson:"generated_at,omitempty"`
}

func (q QuestionSet) Usable() bool {
	return q.Status == ArtifactCompleted && len(q.Items) > 0
}

// Artifacts groups everything precomputed for one document.
type Artifacts struct {
	DocumentID   string       `json:"documentId" bson:"_id"`
	Summary      TextArtifact `json:"summary" bson:"summary"`
	Overview     TextArtifact `json:"overview" bson:"overview"`
	ShortSummary TextArtifact `json:"shortSummary" bson:"short_summary"`
	Questions    QuestionSet  `json:"questions" bson:"questions"`
}

// Text returns the text artifact of the given kind.
func (a *Artifacts) Text(kind ArtifactKind) TextArtifact {
	switch kind {
	case ArtifactSummary:
		return a.Summary
	case ArtifactOverview:
		return a.Overview
	case ArtifactShortSummary:
		return a.ShortSummary
	}
	return TextArtifact{}
}

// SetText stores a text artifact of the given kind.
func (a *Artifacts) SetText(kind ArtifactKind, art TextArtifact) {
	switch kind {
	case ArtifactSummary:
		a.Summary = art
	case ArtifactOverview:
		a.Overview = art
	case ArtifactShortSummary:
		a.ShortSummary = art
	}
}

// AvailableKinds lists the artifacts that are completed and non-empty.
func (a *Artifacts) AvailableKinds() []ArtifactKind {
	if a == nil {
		return nil
	}
	var kinds []ArtifactKind
	for _, k := range TextKinds {
		if a.Text(k).Usable() {
			kinds = append(kinds, k)
		}
	}
	if a.Questions.Usable() {
		kinds = append(kinds, ArtifactQuestions)
	}
	return kinds
}
