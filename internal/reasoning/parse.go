package reasoning

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/QTest-hq/riskplan/internal/llm"
	"github.com/QTest-hq/riskplan/internal/plan"
)

// ParseIDs reads a selection answer. Accepted shapes: an array of ids, an array
// of objects carrying "id", or an object with a "selected_ids" or "testcases" array.
func ParseIDs(content string) ([]int64, error) {
	content = llm.StripCodeFences(content)

	var items []json.RawMessage
	if err := json.Unmarshal([]byte(content), &items); err != nil {
		var wrapper struct {
			SelectedIDs []json.RawMessage `json:"selected_ids"`
			TestCases   []json.RawMessage `json:"testcases"`
		}
		if err2 := json.Unmarshal([]byte(content), &wrapper); err2 != nil {
			return nil, err
		}
		items = wrapper.SelectedIDs
		if items == nil {
			items = wrapper.TestCases
		}
		if items == nil {
			return nil, fmt.Errorf("no id list in answer")
		}
	}

	ids := make([]int64, 0, len(items))
	for _, item := range items {
		var id int64
		if err := json.Unmarshal(item, &id); err == nil {
			ids = append(ids, id)
			continue
		}
		var obj struct {
			ID *int64 `json:"id"`
		}
		if err := json.Unmarshal(item, &obj); err != nil || obj.ID == nil {
			return nil, fmt.Errorf("item %s carries no id", string(item))
		}
		ids = append(ids, *obj.ID)
	}
	return ids, nil
}

// stringList accepts a JSON string or an array of strings
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		if one != "" {
			*l = stringList{one}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*l = many
	return nil
}

// ParseFilters reads a filter-extraction answer
func ParseFilters(content string) (*FilterExtraction, error) {
	var raw struct {
		Filters     map[string]stringList `json:"filters"`
		Suggestions []string              `json:"suggestions"`
	}
	if err := json.Unmarshal([]byte(llm.StripCodeFences(content)), &raw); err != nil {
		return nil, err
	}

	out := &FilterExtraction{
		Filters:     plan.Filters{},
		Suggestions: raw.Suggestions,
		Raw:         content,
	}
	for key, values := range raw.Filters {
		var kept []string
		for _, v := range values {
			if v = strings.TrimSpace(v); v != "" {
				kept = append(kept, v)
			}
		}
		if len(kept) > 0 {
			out.Filters[key] = kept
		}
	}
	return out, nil
}

// CleanWarning normalizes a warning answer: fences and surrounding quotes are
// dropped and whitespace collapsed
func CleanWarning(content string) string {
	content = strings.ReplaceAll(content, "```", "")
	content = strings.Trim(strings.TrimSpace(content), `"`)
	return collapseWhitespace(content)
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// IsAffirmative reports whether a classification answer starts with YES
func IsAffirmative(answer string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(answer)), "YES")
}
