package gemini

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/genai"
)

func TestNew_RequiresKey(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}

func TestSchema(t *testing.T) {
	s := Schema([]string{"Dining", "Groceries"}, nil)

	assert.Equal(t, genai.TypeObject, s.Type)
	assert.Equal(t, []string{"Dining", "Groceries"}, s.Properties["category"].Enum)
	assert.Empty(t, s.Properties["payee"].Enum)
	assert.ElementsMatch(t, []string{"category", "payee", "description"}, s.Required)
}

func TestNewWithClient_Defaults(t *testing.T) {
	r := NewWithClient(nil, Config{})
	assert.Equal(t, DefaultModelName, r.model)
}
