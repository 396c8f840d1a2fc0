package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Record is one policy document as published by the policy source.
type Record struct {
	ID                 string
	Name               string
	Category           string
	Author             string
	ApplicabilityGroup string
	Preview            string
	URLs               map[string]string
}

// URL names carried by the source.
const (
	URLDirect      = "direct"
	URLLatest      = "latest"
	URLGuestAccess = "guest_access"
)

type wireRecord struct {
	ID                     flexibleID `json:"id"`
	Name                   string     `json:"name"`
	CategoryName           string     `json:"category_name"`
	AuthorName             string     `json:"author_name"`
	ApplicabilityGroupName string     `json:"applicability_group_name"`
	TextPreview            string     `json:"text_preview"`
	URLDirect              string     `json:"policystat_url_direct,omitempty"`
	URLLatest              string     `json:"policystat_url_latest,omitempty"`
	URLGuestAccess         string     `json:"policystat_url_guest_access,omitempty"`
}

// flexibleID accepts both numeric and string ids.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("policy id must be a string or number: %w", err)
	}
	*f = flexibleID(n.String())
	return nil
}

func (w wireRecord) record() Record {
	urls := make(map[string]string, 3)
	for name, u := range map[string]string{
		URLDirect:      w.URLDirect,
		URLLatest:      w.URLLatest,
		URLGuestAccess: w.URLGuestAccess,
	} {
		if strings.TrimSpace(u) != "" {
			urls[name] = u
		}
	}
	return Record{
		ID:                 string(w.ID),
		Name:               w.Name,
		Category:           w.CategoryName,
		Author:             w.AuthorName,
		ApplicabilityGroup: w.ApplicabilityGroupName,
		Preview:            w.TextPreview,
		URLs:               urls,
	}
}

// DecodeRecords parses the source's JSON array.
func DecodeRecords(data []byte) ([]Record, error) {
	var wire []wireRecord
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("failed to decode policy records: %w", err)
	}
	records := make([]Record, 0, len(wire))
	for _, w := range wire {
		records = append(records, w.record())
	}
	return records, nil
}
