package classify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCategoryStore serves lookups from an in-memory category list.
type fakeCategoryStore struct {
	rows []categoryRow
}

type categoryRow struct {
	largeCode, largeName   string
	mediumCode, mediumName string
	smallCode, smallName   string
	formatted              string
}

func (f *fakeCategoryStore) FormattedForTriple(_ context.Context, large, medium, small string) (string, error) {
	for _, r := range f.rows {
		if r.largeName == large && r.mediumName == medium && r.smallName == small {
			return r.formatted, nil
		}
	}
	return "", nil
}

func (f *fakeCategoryStore) FormattedForPrefix(_ context.Context, large, medium string) (string, error) {
	for _, r := range f.rows {
		if r.largeName == large && r.mediumName == medium && r.smallCode == "" {
			return r.formatted, nil
		}
	}
	return "", nil
}

func (f *fakeCategoryStore) LargeCodeForName(_ context.Context, large string) (string, error) {
	best := ""
	for _, r := range f.rows {
		if r.largeName == large && r.largeCode > best {
			best = r.largeCode
		}
	}
	return best, nil
}

func (f *fakeCategoryStore) MediumCodeForName(_ context.Context, large, largeCode, medium string) (string, string, error) {
	var code, matched string
	for _, r := range f.rows {
		if r.mediumName != medium || r.mediumCode == "" {
			continue
		}
		if large != "" && r.largeName != large {
			continue
		}
		if largeCode != "" && r.largeCode != largeCode {
			continue
		}
		if r.mediumCode > code {
			code, matched = r.mediumCode, r.largeCode
		}
	}
	return code, matched, nil
}

func (f *fakeCategoryStore) SmallCodeForName(_ context.Context, large, largeCode, medium, mediumCode, small string) (string, string, string, error) {
	var code, matchedLarge, matchedMedium string
	for _, r := range f.rows {
		if r.smallName != small || r.smallCode == "" {
			continue
		}
		if large != "" && r.largeName != large {
			continue
		}
		if largeCode != "" && r.largeCode != largeCode {
			continue
		}
		if medium != "" && r.mediumName != medium {
			continue
		}
		if mediumCode != "" && r.mediumCode != mediumCode {
			continue
		}
		if r.smallCode > code {
			code, matchedLarge, matchedMedium = r.smallCode, r.largeCode, r.mediumCode
		}
	}
	return code, matchedLarge, matchedMedium, nil
}

func testStore() *fakeCategoryStore {
	return &fakeCategoryStore{rows: []categoryRow{
		{"1", "Energy conservation", "1.1", "Industrial energy efficiency", "1.1.1", "Boiler retrofit",
			"1 Energy conservation / 1.1 Industrial energy efficiency / 1.1.1 Boiler retrofit"},
		{"1", "Energy conservation", "1.2", "Green buildings", "", "",
			"1 Energy conservation / 1.2 Green buildings"},
		{"2", "Clean energy", "2.1", "Wind power", "2.1.1", "Onshore wind farms",
			"2 Clean energy / 2.1 Wind power / 2.1.1 Onshore wind farms"},
		{"2", "Clean energy", "2.1", "Wind power", "2.1.2", "Offshore wind farms",
			"2 Clean energy / 2.1 Wind power / 2.1.2 Offshore wind farms"},
		{"10", "Other", "10.1", "Non-green loan", "10.1.1", "Non-green loan", NonGreenLabel},
	}}
}

func TestLabelEmptyInput(t *testing.T) {
	r := NewResolver(testStore())
	label, err := r.Label(context.Background(), "", "", "")
	require.NoError(t, err)
	assert.Equal(t, "", label)
}

func TestLabelExactTriple(t *testing.T) {
	r := NewResolver(testStore())
	label, err := r.Label(context.Background(), "Energy conservation", "Industrial energy efficiency", "Boiler retrofit")
	require.NoError(t, err)
	assert.Equal(t, "1 Energy conservation / 1.1 Industrial energy efficiency / 1.1.1 Boiler retrofit", label)
}

func TestLabelTwoLevelPrefix(t *testing.T) {
	r := NewResolver(testStore())
	label, err := r.Label(context.Background(), "Energy conservation", "Green buildings", "")
	require.NoError(t, err)
	assert.Equal(t, "1 Energy conservation / 1.2 Green buildings", label)
}

func TestLabelReconstructsUnknownSmall(t *testing.T) {
	// No table row for this triple or prefix; each level resolves its own
	// code and the unmatched small level is emitted without one.
	r := NewResolver(testStore())
	label, err := r.Label(context.Background(), "Clean energy", "Wind power", "Floating turbines")
	require.NoError(t, err)
	assert.Equal(t, "2 Clean energy / 2.1 Wind power / Floating turbines", label)
}

func TestLabelReconstructPartialLevels(t *testing.T) {
	r := NewResolver(testStore())

	label, err := r.Label(context.Background(), "Clean energy", "", "")
	require.NoError(t, err)
	assert.Equal(t, "2 Clean energy", label)

	// A lone medium name still recovers its parent's code.
	label, err = r.Label(context.Background(), "", "Wind power", "")
	require.NoError(t, err)
	assert.Equal(t, "2.1 Wind power", label)
}

func TestLabelHighestCodeTieBreak(t *testing.T) {
	store := testStore()
	store.rows = append(store.rows, categoryRow{
		"3", "Clean energy", "3.9", "Wind power", "", "", "3 Clean energy / 3.9 Wind power",
	})
	r := NewResolver(store)
	label, err := r.Label(context.Background(), "Clean energy", "", "")
	require.NoError(t, err)
	assert.Equal(t, "3 Clean energy", label)
}

func TestLabelIdempotent(t *testing.T) {
	r := NewResolver(testStore())
	first, err := r.Label(context.Background(), "Clean energy", "Wind power", "Onshore wind farms")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		again, err := r.Label(context.Background(), "Clean energy", "Wind power", "Onshore wind farms")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestNonGreenLabelResolves(t *testing.T) {
	r := NewResolver(testStore())
	label, err := r.Label(context.Background(), NonGreenLarge, NonGreenMedium, NonGreenSmall)
	require.NoError(t, err)
	assert.Equal(t, NonGreenLabel, label)
}
