package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAvailableKinds(t *testing.T) {
	var nilArtifacts *Artifacts
	assert.Empty(t, nilArtifacts.AvailableKinds())

	a := &Artifacts{DocumentID: "doc-1"}
	a.SetText(ArtifactSummary, TextArtifact{Content: "A book about tides.", Status: ArtifactCompleted})
	a.SetText(ArtifactOverview, TextArtifact{Content: "", Status: ArtifactCompleted})
	a.SetText(ArtifactShortSummary, TextArtifact{Content: "Tides.", Status: ArtifactFailed})
	assert.Equal(t, []ArtifactKind{ArtifactSummary}, a.AvailableKinds())

	a.Questions = QuestionSet{Items: []QAPair{{Question: "Why?", Answer: "The moon."}}, Status: ArtifactCompleted}
	assert.Equal(t, []ArtifactKind{ArtifactSummary, ArtifactQuestions}, a.AvailableKinds())
}

func TestDocumentHasContent(t *testing.T) {
	text, hash := "body", "abc"
	assert.False(t, (&Document{ExtractedText: &text}).HasContent())
	assert.True(t, (&Document{ExtractedText: &text, ContentHash: &hash}).HasContent())
	assert.Equal(t, "", (*Document)(nil).Text())
}
