package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSourceKeys(t *testing.T) {
	include, err := parseSourceKeys([]string{"gdelt", " YouTube "})
	require.NoError(t, err)
	assert.True(t, include["gdelt"])
	assert.True(t, include["youtube"])
	assert.False(t, include["forums"])

	_, err = parseSourceKeys([]string{"dcinside"})
	assert.Error(t, err, "forum sites are selected with --forum-site, not --only")

	include, err = parseSourceKeys(nil)
	require.NoError(t, err)
	assert.Nil(t, include, "no filter means all sources")
}

func TestToSet(t *testing.T) {
	set := toSet([]string{"Theqoo", "", "ppomppu "})
	assert.Equal(t, map[string]bool{"theqoo": true, "ppomppu": true}, set)
	assert.Nil(t, toSet(nil))
}

func TestDeduppedName(t *testing.T) {
	assert.Equal(t, "data/gdelt.dedup.jsonl", deduppedName("data/gdelt.jsonl"))
}
