package entity

// Stage artifacts produced by the three-stage council deliberation.
//
// JSON tags follow the persisted conversation format: replies keep their
// text under "response", rankings keep the raw model text under "ranking".

// ErrorModelID marks a synthesis produced by the engine itself when the
// whole council failed, instead of by a chairman model.
const ErrorModelID = "error"

// SynthesisFailureText is the fixed degraded-mode content returned when the
// chairman call fails after Stages 1 and 2 succeeded.
const SynthesisFailureText = "Error: Unable to generate final synthesis."

// ModelReply is one council member's Stage 1 answer. Failed members have no
// ModelReply at all; an empty reply is never stored.
type ModelReply struct {
	Model            string `json:"model"`
	Content          string `json:"response"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
}

// Ranking is one council member's Stage 2 blind ranking. Parsed may be empty
// when no labels could be extracted; such rankings are kept for audit but
// contribute nothing to aggregates.
type Ranking struct {
	Model            string   `json:"model"`
	Raw              string   `json:"ranking"`
	Parsed           []string `json:"parsed_ranking"`
	PromptTokens     int      `json:"prompt_tokens,omitempty"`
	CompletionTokens int      `json:"completion_tokens,omitempty"`
}

// Synthesis is the chairman's Stage 3 output plus derived metadata.
type Synthesis struct {
	Model            string `json:"model"`
	Content          string `json:"response"`
	PrimarySource    string `json:"primary_source,omitempty"`
	TopRankedModel   string `json:"top_ranked_model,omitempty"`
	Confidence       int    `json:"confidence"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
}

// IsError reports whether this synthesis is the engine's own error marker
// (empty roster or every Stage 1 member failed).
func (s Synthesis) IsError() bool {
	return s.Model == ErrorModelID
}

// AggregateRanking is the consensus view of one model across every parsed
// Stage 2 ranking: the mean 1-based position and how many rankings placed it.
type AggregateRanking struct {
	Model         string  `json:"model"`
	AverageRank   float64 `json:"average_rank"`
	RankingsCount int     `json:"rankings_count"`
}

// CouncilMetadata accompanies a deliberation result: the label bijection
// over Stage 1 successes, consensus rankings, and token totals across all
// three stages.
type CouncilMetadata struct {
	LabelToModel      map[string]string  `json:"label_to_model"`
	AggregateRankings []AggregateRanking `json:"aggregate_rankings"`
	PromptTokens      int                `json:"prompt_tokens"`
	CompletionTokens  int                `json:"completion_tokens"`
}

// CouncilResult is the full outcome of one three-stage run.
type CouncilResult struct {
	Stage1   []ModelReply
	Stage2   []Ranking
	Stage3   Synthesis
	Metadata CouncilMetadata
}
