package stream

import (
	"encoding/json"

	"github.com/mohammad-safakhou/deepresearch/models"
)

// Kind is the closed set of payload kinds a packet can carry.
type Kind string

const (
	KindMessageStart             Kind = "message_start"
	KindMessageDelta             Kind = "message_delta"
	KindSectionEnd               Kind = "section_end"
	KindSearchToolStart          Kind = "search_tool_start"
	KindSearchToolDelta          Kind = "search_tool_delta"
	KindImageGenerationStart     Kind = "image_generation_tool_start"
	KindImageGenerationHeartbeat Kind = "image_generation_tool_heartbeat"
	KindImageGenerationDelta     Kind = "image_generation_tool_delta"
	KindCustomToolStart          Kind = "custom_tool_start"
	KindCustomToolDelta          Kind = "custom_tool_delta"
	KindReasoningStart           Kind = "reasoning_start"
	KindReasoningDelta           Kind = "reasoning_delta"
	KindCitationStart            Kind = "citation_start"
	KindCitationDelta            Kind = "citation_delta"
	KindOverallStop              Kind = "stop"
	KindError                    Kind = "error"
)

// Terminal reports whether k ends a stream.
func (k Kind) Terminal() bool {
	return k == KindOverallStop || k == KindError
}

// Payload is the body of a packet. Only the fields relevant to Kind are set.
type Payload struct {
	Kind             Kind                    `json:"type"`
	Content          string                  `json:"content,omitempty"`
	Queries          []string                `json:"queries,omitempty"`
	Documents        []models.Document       `json:"documents,omitempty"`
	IsInternetSearch bool                    `json:"is_internet_search,omitempty"`
	Images           []models.GeneratedImage `json:"images,omitempty"`
	ToolName         string                  `json:"tool_name,omitempty"`
	ResponseType     string                  `json:"response_type,omitempty"`
	Data             json.RawMessage         `json:"data,omitempty"`
	Citations        []models.Citation       `json:"citations,omitempty"`
	StopReason       models.StopReason       `json:"stop_reason,omitempty"`
	Error            string                  `json:"error,omitempty"`
}

// Packet is one ordered element of the event stream.
type Packet struct {
	Seq     int64   `json:"seq"`
	Step    int     `json:"ind"`
	Branch  int     `json:"branch"`
	Payload Payload `json:"obj"`
}

func MessageStart(content string) Payload {
	return Payload{Kind: KindMessageStart, Content: content}
}

func MessageDelta(content string) Payload {
	return Payload{Kind: KindMessageDelta, Content: content}
}

func SectionEnd() Payload { return Payload{Kind: KindSectionEnd} }

func SearchToolStart(internet bool) Payload {
	return Payload{Kind: KindSearchToolStart, IsInternetSearch: internet}
}

func SearchToolDelta(queries []string, docs []models.Document) Payload {
	return Payload{Kind: KindSearchToolDelta, Queries: queries, Documents: docs}
}

func ImageGenerationStart() Payload { return Payload{Kind: KindImageGenerationStart} }

func ImageGenerationHeartbeat() Payload { return Payload{Kind: KindImageGenerationHeartbeat} }

func ImageGenerationDelta(images []models.GeneratedImage) Payload {
	return Payload{Kind: KindImageGenerationDelta, Images: images}
}

func CustomToolStart(tool string) Payload {
	return Payload{Kind: KindCustomToolStart, ToolName: tool}
}

func CustomToolDelta(tool, responseType string, data json.RawMessage) Payload {
	return Payload{Kind: KindCustomToolDelta, ToolName: tool, ResponseType: responseType, Data: data}
}

func ReasoningStart() Payload { return Payload{Kind: KindReasoningStart} }

func ReasoningDelta(reasoning string) Payload {
	return Payload{Kind: KindReasoningDelta, Content: reasoning}
}

func CitationStart() Payload { return Payload{Kind: KindCitationStart} }

func CitationDelta(citations []models.Citation) Payload {
	return Payload{Kind: KindCitationDelta, Citations: citations}
}
