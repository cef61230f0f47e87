package classify

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/projectmemory/memcore/internal/store"
)

func TestClassifyDetectsEpisodicFromTemporalMarker(t *testing.T) {
	c := New()
	res, ok := c.Classify("Yesterday we decided to use FastAPI.")
	require.True(t, ok)
	require.Equal(t, store.MemoryTypeEpisodic, res.MemoryType)
	require.Greater(t, res.Confidence, 0.5)
}

func TestClassifyDetectsPreference(t *testing.T) {
	c := New()
	res, ok := c.Classify("I prefer tabs over spaces.")
	require.True(t, ok)
	require.Equal(t, store.MemoryTypePreference, res.MemoryType)
}

func TestClassifyDetectsProceduralFromImperativeSteps(t *testing.T) {
	c := New()
	res, ok := c.Classify("To deploy: first build the image, then push it to the registry.")
	require.True(t, ok)
	require.Equal(t, store.MemoryTypeProcedural, res.MemoryType)
}

func TestClassifyDetectsWorkingFromNearTermMarker(t *testing.T) {
	c := New()
	res, ok := c.Classify("TODO: need to rotate the staging credentials.")
	require.True(t, ok)
	require.Equal(t, store.MemoryTypeWorking, res.MemoryType)
}

func TestClassifyDetectsSensoryFromPerceptionVerb(t *testing.T) {
	c := New()
	res, ok := c.Classify("The API feels slower since the migration.")
	require.True(t, ok)
	require.Equal(t, store.MemoryTypeSensory, res.MemoryType)
}

func TestClassifyDampensHedgedStatements(t *testing.T) {
	c := New()
	direct, ok := c.Classify("We prefer Redis for caching.")
	require.True(t, ok)

	hedged, ok := c.Classify("Maybe we prefer Redis for caching.")
	require.True(t, ok)
	require.Less(t, hedged.Confidence, direct.Confidence)
}

func TestClassifyReturnsFalseForUnmatchedText(t *testing.T) {
	c := New()
	_, ok := c.Classify("   ")
	require.False(t, ok)
}

func TestClassifyDetectsSemanticFromIsAStatement(t *testing.T) {
	c := New()
	res, ok := c.Classify("The database is a shared resource.")
	require.True(t, ok)
	require.Equal(t, store.MemoryTypeSemantic, res.MemoryType)
}

func TestAdjustForContextBumpsForEntitiesAndFloorsShortText(t *testing.T) {
	require.InDelta(t, 0.7, AdjustForContext(0.6, 50, 1), 1e-9)
	require.InDelta(t, 0.3, AdjustForContext(0.5, 5, 0), 1e-9)
	require.InDelta(t, 1.0, AdjustForContext(0.95, 50, 1), 1e-9)
}
