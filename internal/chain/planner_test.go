package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linearChain() *Definition {
	return &Definition{
		ID: "linear",
		Steps: []Step{
			{ID: "A", PromptID: "prompt-a"},
			{ID: "B", PromptID: "prompt-b", DependsOn: []string{"A"}},
			{ID: "C", PromptID: "prompt-c", DependsOn: []string{"B"}},
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		def     *Definition
		wantErr error
	}{
		{
			name:    "valid linear chain",
			def:     linearChain(),
			wantErr: nil,
		},
		{
			name: "empty chain is valid",
			def:  &Definition{ID: "empty"},
		},
		{
			name: "self dependency",
			def: &Definition{
				ID: "selfdep",
				Steps: []Step{
					{ID: "A", DependsOn: []string{"A"}},
				},
			},
			wantErr: ErrSelfDependency,
		},
		{
			name: "unknown dependency",
			def: &Definition{
				ID: "unknown",
				Steps: []Step{
					{ID: "A", DependsOn: []string{"ghost"}},
				},
			},
			wantErr: ErrUnknownDependency,
		},
		{
			name: "two step cycle",
			def: &Definition{
				ID: "cycle",
				Steps: []Step{
					{ID: "A", DependsOn: []string{"B"}},
					{ID: "B", DependsOn: []string{"A"}},
				},
			},
			wantErr: ErrCycle,
		},
		{
			name: "three step cycle behind a valid head",
			def: &Definition{
				ID: "cycle3",
				Steps: []Step{
					{ID: "head"},
					{ID: "A", DependsOn: []string{"head", "C"}},
					{ID: "B", DependsOn: []string{"A"}},
					{ID: "C", DependsOn: []string{"B"}},
				},
			},
			wantErr: ErrCycle,
		},
		{
			name: "duplicate step id",
			def: &Definition{
				ID: "dup",
				Steps: []Step{
					{ID: "A"},
					{ID: "A"},
				},
			},
			wantErr: ErrDuplicateStep,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.def)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestExecutableSteps(t *testing.T) {
	def := linearChain()

	stepIDs := func(steps []Step) []string {
		ids := make([]string, 0, len(steps))
		for _, s := range steps {
			ids = append(ids, s.ID)
		}
		return ids
	}

	tests := []struct {
		name      string
		completed map[string]bool
		want      []string
	}{
		{"nothing completed", map[string]bool{}, []string{"A"}},
		{"A completed", map[string]bool{"A": true}, []string{"B"}},
		{"A and B completed", map[string]bool{"A": true, "B": true}, []string{"C"}},
		{"all completed", map[string]bool{"A": true, "B": true, "C": true}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExecutableSteps(def, tt.completed)
			assert.Equal(t, tt.want, stepIDs(got))
		})
	}
}

func TestExecutableStepsDeclaredOrderTieBreak(t *testing.T) {
	// Two independent steps unblock simultaneously after the root;
	// declared order decides which is emitted first.
	def := &Definition{
		ID: "fanout",
		Steps: []Step{
			{ID: "root"},
			{ID: "second", DependsOn: []string{"root"}},
			{ID: "first", DependsOn: []string{"root"}},
		},
	}
	require.NoError(t, Validate(def))

	completed := map[string]bool{"root": true}
	unblocked := ExecutableSteps(def, completed)
	require.Len(t, unblocked, 2)
	assert.Equal(t, "second", unblocked[0].ID, "declared order wins, not lexical order")
	assert.Equal(t, "first", unblocked[1].ID)

	next := NextStep(def, completed)
	require.NotNil(t, next)
	assert.Equal(t, "second", next.ID)

	// Re-running with the same completed set is deterministic.
	again := NextStep(def, completed)
	require.NotNil(t, again)
	assert.Equal(t, next.ID, again.ID)
}

func TestNextStepNilWhenBlocked(t *testing.T) {
	def := linearChain()
	// Nothing completed but we ask as if B completed alone: A is still
	// executable, so only a fully completed chain yields nil.
	assert.NotNil(t, NextStep(def, map[string]bool{}))
	assert.Nil(t, NextStep(def, map[string]bool{"A": true, "B": true, "C": true}))
}

func TestIsComplete(t *testing.T) {
	def := linearChain()
	assert.False(t, IsComplete(def, map[string]bool{"A": true}))
	assert.True(t, IsComplete(def, map[string]bool{"A": true, "B": true, "C": true}))

	empty := &Definition{ID: "empty"}
	assert.True(t, IsComplete(empty, map[string]bool{}), "zero-step chain is immediately terminal")
}
