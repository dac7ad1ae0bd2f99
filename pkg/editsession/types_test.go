package editsession

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueEncoding(t *testing.T) {
	tests := []struct {
		name  string
		value Value
		wire  string
	}{
		{"text", TextValue(KindText, "<p>hello</p>"), "<p>hello</p>"},
		{"number", TextValue(KindNumber, "3.14"), "3.14"},
		{"radio", TextValue(KindRadio, "yes"), "yes"},
		{"choice", ChoiceValue("a", "b"), "a,b"},
		{"empty choice", ChoiceValue(), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wire, tt.value.Encode())
			assert.True(t, tt.value.Equal(DecodeValue(tt.value.Kind, tt.wire)))
		})
	}
}

func TestDecodeChoiceTrimsBlanks(t *testing.T) {
	v := DecodeValue(KindChoice, " a, ,b ")
	assert.Equal(t, []string{"a", "b"}, v.Options)
}

func TestFieldKindValid(t *testing.T) {
	assert.True(t, KindDate.Valid())
	assert.False(t, FieldKind("rich").Valid())
}

func TestAddField(t *testing.T) {
	s := New("doc-1", newFakeStore(), WithLogger(discardLogger()))

	_, err := s.AddField("A", KindText, NewMemoryEditor(Value{}))
	require.NoError(t, err)
	_, err = s.AddField("A", KindText, NewMemoryEditor(Value{}))
	assert.Error(t, err)
	_, err = s.AddField("B", FieldKind("rich"), NewMemoryEditor(Value{}))
	assert.Error(t, err)

	assert.ErrorIs(t, s.MarkDirty("missing"), ErrUnknownField)
	assert.ErrorIs(t, s.BeginEdit("missing"), ErrUnknownField)
	assert.Len(t, s.Fields(), 1)
}

func TestMemoryEditor(t *testing.T) {
	ed := NewMemoryEditor(TextValue(KindString, "a"))
	assert.False(t, ed.IsDirty())

	assert.True(t, ed.Input(TextValue(KindString, "b")))
	assert.True(t, ed.IsDirty())
	assert.Equal(t, "b", ed.Value().Text)
	assert.False(t, ed.IsDirty())

	ed.Disable()
	assert.False(t, ed.Input(TextValue(KindString, "c")))
	ed.Enable()
	ed.SetValue(TextValue(KindString, "server"))
	assert.False(t, ed.IsDirty())
	assert.Equal(t, "server", ed.Peek().Text)
}

func TestStatusOf(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", statusError(404))
	assert.Equal(t, 404, StatusOf(err))
	assert.Equal(t, 0, StatusOf(errors.New("plain")))
}

func TestBatchReportNil(t *testing.T) {
	var r *BatchReport
	assert.Nil(t, r.FieldIDs())
	assert.Zero(t, r.Failures())
}
