package candidateindex

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sorrel/internal/repositories/employeeprofile"
	matcherrors "github.com/Ramsey-B/sorrel/pkg/errors"
	"github.com/Ramsey-B/sorrel/pkg/matching"
	"github.com/Ramsey-B/sorrel/pkg/models"
)

func newIndex(t *testing.T) *Index {
	t.Helper()
	table, err := matching.DefaultNicknames()
	require.NoError(t, err)
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	return NewIndex(logger, table, 1)
}

func profile(company, id string, ids models.HashedIdentifierSet) *models.EmployeeProfile {
	ids.SaltVersion = 1
	return &models.EmployeeProfile{CompanyID: company, EmployeeID: id, Identifiers: ids}
}

func refs(keys ...string) []models.EmployeeRef {
	out := make([]models.EmployeeRef, len(keys))
	for n, k := range keys {
		var company, id string
		fmt.Sscanf(k, "%s %s", &company, &id)
		out[n] = models.EmployeeRef{CompanyID: company, EmployeeID: id}
	}
	return out
}

func TestIndex_ExactBuckets(t *testing.T) {
	idx := newIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(profile("acme", "1", models.HashedIdentifierSet{SSNHash: "s1"})))
	require.NoError(t, idx.Upsert(profile("acme", "2", models.HashedIdentifierSet{SSNHash: "s1"})))
	require.NoError(t, idx.Upsert(profile("globex", "9", models.HashedIdentifierSet{SSNHash: "s1"})))
	require.NoError(t, idx.Upsert(profile("initech", "4", models.HashedIdentifierSet{EmailHash: "e1"})))

	got, dropped, err := idx.FindCandidates(ctx, profile("acme", "1", models.HashedIdentifierSet{SSNHash: "s1", EmailHash: "e1"}), 0)
	require.NoError(t, err)
	assert.Zero(t, dropped)
	assert.Equal(t, refs("globex 9", "initech 4"), got, "same-company employees are excluded")
	assert.Equal(t, 4, idx.Size())
}

func TestIndex_NicknameBucket(t *testing.T) {
	idx := newIndex(t)

	robert := profile("acme", "1", models.HashedIdentifierSet{FirstNormalized: "robert", LastNormalized: "smith"})
	bob := profile("globex", "2", models.HashedIdentifierSet{FirstNormalized: "bob", LastNormalized: "smith"})
	require.NoError(t, idx.Upsert(robert))
	require.NoError(t, idx.Upsert(bob))

	got, _, err := idx.FindCandidates(context.Background(), robert, 0)
	require.NoError(t, err)
	assert.Equal(t, []models.EmployeeRef{bob.Ref()}, got)

	got, _, err = idx.FindCandidates(context.Background(), bob, 0)
	require.NoError(t, err)
	assert.Equal(t, []models.EmployeeRef{robert.Ref()}, got, "lookup is symmetric")
}

func TestIndex_MetaphoneBucket(t *testing.T) {
	idx := newIndex(t)

	a := profile("acme", "1", models.HashedIdentifierSet{FirstNormalized: "katherine", LastNormalized: "smith"})
	b := profile("globex", "2", models.HashedIdentifierSet{FirstNormalized: "kathy", LastNormalized: "smyth"})
	require.NoError(t, idx.Upsert(b))

	got, _, err := idx.FindCandidates(context.Background(), a, 0)
	require.NoError(t, err)
	assert.Equal(t, []models.EmployeeRef{b.Ref()}, got)
}

func TestIndex_OrderingAndCap(t *testing.T) {
	idx := newIndex(t)

	for n := 0; n < 5; n++ {
		require.NoError(t, idx.Upsert(profile(fmt.Sprintf("co%d", n), "x", models.HashedIdentifierSet{FirstNormalized: "ann", LastNormalized: "lee"})))
	}
	require.NoError(t, idx.Upsert(profile("zeta", "z", models.HashedIdentifierSet{PhoneHash: "p1"})))

	source := profile("source", "s", models.HashedIdentifierSet{PhoneHash: "p1", FirstNormalized: "ann", LastNormalized: "lee"})

	got, dropped, err := idx.FindCandidates(context.Background(), source, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, dropped)
	assert.Equal(t, refs("zeta z", "co0 x", "co1 x"), got, "exact hits rank first, then key order")

	again, _, err := idx.FindCandidates(context.Background(), source, 3)
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestIndex_UpsertMovesBuckets(t *testing.T) {
	idx := newIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(profile("globex", "1", models.HashedIdentifierSet{EmailHash: "old"})))
	require.NoError(t, idx.Upsert(profile("globex", "1", models.HashedIdentifierSet{EmailHash: "new"})))
	assert.Equal(t, 1, idx.Size())

	got, _, err := idx.FindCandidates(ctx, profile("acme", "a", models.HashedIdentifierSet{EmailHash: "old"}), 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, _, err = idx.FindCandidates(ctx, profile("acme", "a", models.HashedIdentifierSet{EmailHash: "new"}), 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	idx.Remove(models.EmployeeRef{CompanyID: "globex", EmployeeID: "1"})
	assert.Zero(t, idx.Size())
	got, _, err = idx.FindCandidates(ctx, profile("acme", "a", models.HashedIdentifierSet{EmailHash: "new"}), 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	idx.Remove(models.EmployeeRef{CompanyID: "nobody", EmployeeID: "0"})
}

func TestIndex_EmptiedBucketsAreDeleted(t *testing.T) {
	idx := newIndex(t)

	ids := models.HashedIdentifierSet{SSNHash: "s", EmailHash: "e", FirstNormalized: "john", LastNormalized: "smith"}
	require.NoError(t, idx.Upsert(profile("acme", "1", ids)))
	require.NoError(t, idx.Upsert(profile("globex", "2", ids)))
	filed := idx.BucketCount()
	assert.Equal(t, len(idx.Keys(profile("acme", "1", ids))), filed)

	require.NoError(t, idx.Upsert(profile("acme", "1", models.HashedIdentifierSet{PhoneHash: "p"})))
	assert.Equal(t, filed+1, idx.BucketCount())

	idx.Remove(models.EmployeeRef{CompanyID: "globex", EmployeeID: "2"})
	assert.Equal(t, 1, idx.BucketCount())

	idx.Remove(models.EmployeeRef{CompanyID: "acme", EmployeeID: "1"})
	assert.Zero(t, idx.BucketCount())

	require.NoError(t, idx.Upsert(profile("acme", "1", ids)))
	assert.Equal(t, filed, idx.BucketCount())
}

func TestIndex_ConcurrentChurnKeepsMembers(t *testing.T) {
	idx := newIndex(t)
	ctx := context.Background()
	shared := models.HashedIdentifierSet{SSNHash: "shared"}

	var wg sync.WaitGroup
	for n := 0; n < 50; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			temp := profile(fmt.Sprintf("tmp%d", n), "t", shared)
			for round := 0; round < 20; round++ {
				_ = idx.Upsert(temp)
				idx.Remove(temp.Ref())
			}
			_ = idx.Upsert(profile(fmt.Sprintf("co%d", n), "1", shared))
		}(n)
	}
	wg.Wait()

	got, _, err := idx.FindCandidates(ctx, profile("lookup", "p", shared), 0)
	require.NoError(t, err)
	assert.Len(t, got, 50)
	assert.Equal(t, 50, idx.Size())
	assert.Equal(t, 1, idx.BucketCount())
}

func TestIndex_BucketStatsAndLocalCount(t *testing.T) {
	idx := newIndex(t)

	for n := 0; n < 3; n++ {
		require.NoError(t, idx.Upsert(profile("acme", fmt.Sprint(n), models.HashedIdentifierSet{SSNHash: "zero", SSNLocalHash: "local-zero"})))
	}
	require.NoError(t, idx.Upsert(profile("globex", "g", models.HashedIdentifierSet{SSNHash: "zero", SSNLocalHash: "other-local"})))

	employees, companies := idx.BucketStats(models.IdentifierSSN, "zero")
	assert.Equal(t, 4, employees)
	assert.Equal(t, 2, companies)

	assert.Equal(t, 3, idx.LocalCount("acme", "local-zero"))
	assert.Equal(t, 0, idx.LocalCount("globex", "local-zero"))

	employees, companies = idx.BucketStats(models.IdentifierEmail, "missing")
	assert.Zero(t, employees)
	assert.Zero(t, companies)
}

func TestIndex_ClosedIsLookupError(t *testing.T) {
	idx := newIndex(t)
	idx.Close()

	_, _, err := idx.FindCandidates(context.Background(), profile("acme", "1", models.HashedIdentifierSet{SSNHash: "x"}), 0)
	require.Error(t, err)
	assert.True(t, matcherrors.IsCandidateLookup(err))
	assert.ErrorIs(t, err, ErrClosed)

	assert.ErrorIs(t, idx.Upsert(profile("acme", "1", models.HashedIdentifierSet{})), ErrClosed)
}

func TestIndex_RebuildSkipsStaleSalt(t *testing.T) {
	idx := newIndex(t)
	require.NoError(t, idx.Upsert(profile("acme", "old", models.HashedIdentifierSet{SSNHash: "v1"})))

	fresh := profile("acme", "1", models.HashedIdentifierSet{SSNHash: "v2"})
	fresh.Identifiers.SaltVersion = 2
	stale := profile("globex", "2", models.HashedIdentifierSet{SSNHash: "v1"})

	indexed, skipped, err := idx.Rebuild(context.Background(), []*models.EmployeeProfile{fresh, stale}, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, indexed)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, 1, idx.Size())
	assert.Equal(t, 2, idx.SaltVersion())

	assert.ErrorIs(t, idx.Upsert(stale), ErrStaleSalt)
}

func TestIndex_ConcurrentUpsertAndLookup(t *testing.T) {
	idx := newIndex(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for n := 0; n < 50; n++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			_ = idx.Upsert(profile(fmt.Sprintf("co%d", n%7), fmt.Sprint(n), models.HashedIdentifierSet{SSNHash: "shared"}))
		}(n)
		go func() {
			defer wg.Done()
			_, _, err := idx.FindCandidates(ctx, profile("lookup", "p", models.HashedIdentifierSet{SSNHash: "shared"}), 0)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, _, err := idx.FindCandidates(ctx, profile("lookup", "p", models.HashedIdentifierSet{SSNHash: "shared"}), 0)
	require.NoError(t, err)
	assert.Len(t, got, 50)
	assert.Equal(t, 50, idx.Size())
}

func TestIndex_RebuildFromPages(t *testing.T) {
	idx := newIndex(t)
	ctx := context.Background()

	store := employeeprofile.NewMemoryRepository()
	for n := 0; n < 5; n++ {
		_, err := store.Upsert(ctx, profile(fmt.Sprintf("co%d", n), "x", models.HashedIdentifierSet{SSNHash: "shared"}))
		require.NoError(t, err)
	}
	stale := profile("old", "y", models.HashedIdentifierSet{SSNHash: "shared"})
	stale.Identifiers.SaltVersion = 0
	_, err := store.Upsert(ctx, stale)
	require.NoError(t, err)

	indexed, skipped, err := idx.RebuildFrom(ctx, store, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, indexed)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, 5, idx.Size())
}
