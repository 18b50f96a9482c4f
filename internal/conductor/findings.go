package conductor

import "encoding/json"

// findingRecord is one entry of a node execution's findings_json, the
// shape a NodeExecutor is expected to populate under result.Data["findings"].
type findingRecord struct {
	findingType string
	content     string
	importance  string
	tags        []string
}

type rawFinding struct {
	Type       string   `json:"type"`
	Content    string   `json:"content"`
	Importance string   `json:"importance"`
	Tags       []string `json:"tags"`
}

func decodeFindings(findingsJSON string) ([]findingRecord, error) {
	if findingsJSON == "" {
		return nil, nil
	}
	var raw []rawFinding
	if err := json.Unmarshal([]byte(findingsJSON), &raw); err != nil {
		return nil, err
	}
	out := make([]findingRecord, len(raw))
	for i, r := range raw {
		out[i] = findingRecord{findingType: r.Type, content: r.Content, importance: r.Importance, tags: r.Tags}
	}
	return out, nil
}

func decodeStringList(listJSON string) ([]string, error) {
	if listJSON == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(listJSON), &out); err != nil {
		return nil, err
	}
	return out, nil
}
