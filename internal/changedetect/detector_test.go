package changedetect

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/QTest-hq/riskplan/internal/reasoning"
	"github.com/QTest-hq/riskplan/internal/session"
)

func TestDetector_NoSavePhrases(t *testing.T) {
	phrases := []string{
		"don't save", "do not save", "dont save",
		"no save", "don't store", "do not store",
		"dont store", "no store", "don't record",
		"do not record", "dont record", "no record",
	}

	for _, phrase := range phrases {
		t.Run(phrase, func(t *testing.T) {
			fake := &reasoning.Fake{}
			d := New(fake, nil, true)
			st := &session.State{ID: "s", LastRequest: "previous request"}

			text := "Login tests, please " + phrase + " this"
			assert.False(t, d.ShouldPersist(context.Background(), text, st))
			assert.Equal(t, text, st.LastRequest)
			assert.Equal(t, 0, fake.Calls(reasoning.OpClassify))
		})
	}
}

func TestDetector_NoSaveMatching(t *testing.T) {
	d := New(&reasoning.Fake{}, nil, true)

	tests := []struct {
		name string
		text string
		want bool
	}{
		{"upper_case", "PLEASE DON'T SAVE", true},
		{"smart_apostrophe", "please don’t save this", true},
		{"substring", "generate plan, no save needed", true},
		{"unrelated", "save everything", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, d.RequestedNoSave(tt.text))
		})
	}
}

func TestDetector_FirstRequest(t *testing.T) {
	fake := &reasoning.Fake{}
	d := New(fake, nil, false)
	st := &session.State{ID: "s"}

	decision := d.Evaluate(context.Background(), "Class 1 login tests", st)
	assert.True(t, decision.Persist)
	assert.Equal(t, ReasonFirst, decision.Reason)
	assert.Equal(t, "Class 1 login tests", st.LastRequest)
	assert.Equal(t, 0, fake.Calls(reasoning.OpClassify))
}

func TestDetector_Classification(t *testing.T) {
	tests := []struct {
		name       string
		answer     string
		err        error
		defaultVal bool
		want       bool
		reason     Reason
	}{
		{"yes", "YES", nil, true, true, ReasonMajor},
		{"yes_lower_with_text", " yes, scope moved", nil, true, true, ReasonMajor},
		{"no", "NO", nil, true, false, ReasonMinor},
		{"garbage", "perhaps", nil, true, false, ReasonMinor},
		{"failure_default_true", "", errors.New("timeout"), true, true, ReasonFallback},
		{"failure_default_false", "", errors.New("timeout"), false, false, ReasonFallback},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotPrev, gotCur string
			fake := &reasoning.Fake{ClassifyFn: func(prev, cur string) (string, error) {
				gotPrev, gotCur = prev, cur
				return tt.answer, tt.err
			}}
			d := New(fake, nil, tt.defaultVal)
			st := &session.State{ID: "s", LastRequest: "Class 1 login tests"}

			decision := d.Evaluate(context.Background(), "Class 2 payment tests", st)
			assert.Equal(t, tt.want, decision.Persist)
			assert.Equal(t, tt.reason, decision.Reason)
			assert.Equal(t, "Class 1 login tests", gotPrev)
			assert.Equal(t, "Class 2 payment tests", gotCur)
			// cache always updated
			assert.Equal(t, "Class 2 payment tests", st.LastRequest)
		})
	}
}

func TestDetector_CustomPhrases(t *testing.T) {
	d := New(&reasoning.Fake{}, []string{"Draft Only"}, true)

	assert.True(t, d.RequestedNoSave("this is a draft only run"))
	assert.False(t, d.RequestedNoSave("don't save"))
}
