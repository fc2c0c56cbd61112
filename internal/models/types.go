package models

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Capability is an abstract AI function used to pick a default model per user.
type Capability string

const (
	CapabilityChat       Capability = "CHAT"
	CapabilityPic2Text   Capability = "PIC2TEXT"
	CapabilityText2Pic   Capability = "TEXT2PIC"
	CapabilityText2Vid   Capability = "TEXT2VID"
	CapabilityText2Sound Capability = "TEXT2SOUND"
	CapabilitySort       Capability = "SORT"
)

// Tag classifies what a model can do. Tags feed topic remapping during
// classification and the capability default lookup.
const (
	TagChat       = "chat"
	TagPic2Text   = "pic2text"
	TagAnalyze    = "analyze"
	TagText2Pic   = "text2pic"
	TagText2Vid   = "text2vid"
	TagText2Sound = "text2sound"
	TagVectorize  = "vectorize"
	TagSort       = "sort"
)

var validTags = map[string]struct{}{
	TagChat: {}, TagPic2Text: {}, TagAnalyze: {}, TagText2Pic: {},
	TagText2Vid: {}, TagText2Sound: {}, TagVectorize: {}, TagSort: {},
}

// capabilityTags maps a capability to the model tags that can serve it,
// in preference order.
var capabilityTags = map[Capability][]string{
	CapabilityChat:       {TagChat},
	CapabilityPic2Text:   {TagPic2Text, TagAnalyze},
	CapabilityText2Pic:   {TagText2Pic},
	CapabilityText2Vid:   {TagText2Vid},
	CapabilityText2Sound: {TagText2Sound},
	CapabilitySort:       {TagSort, TagChat},
}

type Model struct {
	ID                 string `json:"id"`
	ModelID            string `json:"model_id"`
	Name               string `json:"name"`
	ProviderID         string `json:"provider_id"`
	Tag                string `json:"tag"`
	SupportsStreaming  bool   `json:"supports_streaming"`
	SupportsSystemRole bool   `json:"supports_system_role"`
}

func (m *Model) Validate() error {
	if m.ModelID == "" {
		return errors.New("model ID is required")
	}
	if m.ProviderID == "" {
		return errors.New("provider ID is required")
	}
	if _, err := uuid.Parse(m.ProviderID); err != nil {
		return errors.New("provider ID must be a valid UUID")
	}
	if _, ok := validTags[m.Tag]; !ok {
		return fmt.Errorf("invalid model tag: %s", m.Tag)
	}
	return nil
}

type AddRequest Model

type AddResponse struct {
	ID      string `json:"id"`
	ModelID string `json:"model_id"`
}

type SetDefaultRequest struct {
	Capability string `json:"capability" validate:"required"`
	ModelID    string `json:"model_id" validate:"required"`
}
