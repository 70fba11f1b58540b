package models

// Chunk is an embedded slice of a document's text. Similarity is filled in by a search
// and never stored.
type Chunk struct {
	ID         string    `json:"id" bson:"_id"`
	DocumentID string    `json:"documentId" bson:"document_id"`
	Index      int       `json:"index" bson:"index"`
	Content    string    `json:"content" bson:"content"`
	PageNumber *int      `json:"pageNumber,omitempty" bson:"page_number,omitempty"`
	Embedding  []float32 `json:"-" bson:"embedding"`
	Similarity float64   `json:"similarity,omitempty" bson:"-"`
}
