package analysis

import (
	"github.com/mitchellh/mapstructure"
)

// profileMeta is the identifying part of a stored profile.
type profileMeta struct {
	CompanyName     string  `json:"company_name"`
	Industry        string  `json:"industry"`
	CandidateName   string  `json:"candidate_name"`
	PrimaryRole     string  `json:"primary_role"`
	Seniority       string  `json:"seniority"`
	YearsExperience float64 `json:"years_experience"`
}

// metaOf decodes profile_meta leniently. Fields the model left out or
// typed oddly stay empty.
func metaOf(profile map[string]any) profileMeta {
	var meta profileMeta
	raw, ok := profile["profile_meta"].(map[string]any)
	if !ok {
		return meta
	}

	cfg := &mapstructure.DecoderConfig{
		Result:           &meta,
		TagName:          "json",
		WeaklyTypedInput: true,
	}
	decoder, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return meta
	}
	// fields that fail to decode stay empty, the rest are kept
	_ = decoder.Decode(raw)
	return meta
}
