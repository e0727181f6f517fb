package exporttag

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metagraph/internal/core"
)

func newService(t *testing.T) *core.Service {
	t.Helper()
	svc := core.NewInMemoryService(nil)
	_, err := svc.InstallPlugin(New())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func notes(t *testing.T, ctx context.Context, tags []*Tag) []string {
	t.Helper()
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		n, err := tag.Note(ctx)
		require.NoError(t, err)
		out = append(out, n)
	}
	return out
}

func TestAddSeedsDefaults(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	tag, err := Add(ctx, svc, "|body", "body")
	require.NoError(t, err)

	root, ok, err := tag.Root(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, core.MemberID("|body"), root)

	note, err := tag.Note(ctx)
	require.NoError(t, err)
	assert.Equal(t, "body", note)
	active, err := tag.Active(ctx)
	require.NoError(t, err)
	assert.True(t, active)
	auto, err := tag.AutoUpdate(ctx)
	require.NoError(t, err)
	assert.True(t, auto)

	assert.Equal(t, "", tag.Type(ctx))
	require.NoError(t, tag.SetType(ctx, "mesh"))
	assert.Equal(t, "mesh", tag.Type(ctx))

	public, err := tag.Attributes(ctx, false)
	require.NoError(t, err)
	assert.NotContains(t, public, TaskListAttr)
	assert.NotContains(t, public, TypeAttr)
	assert.Contains(t, public, core.ExportDescriptorAttr)

	require.NoError(t, tag.SetTaskList(ctx, `{"tasks":["fbx"]}`))
	doc, err := tag.TaskList(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"tasks":["fbx"]}`, doc)
	require.ErrorIs(t, svc.SetAttribute(ctx, tag.ID(), TaskListAttr, "x"), core.ErrAttributeLocked)

	valid, err := tag.IsValid(ctx)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestAddRefusesSecondTag(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	first, err := Add(ctx, svc, "|body", "body")
	require.NoError(t, err)

	_, err = Add(ctx, svc, "|body", "again")
	var tagged core.AlreadyTaggedError
	require.True(t, errors.As(err, &tagged))
	assert.Equal(t, first.ID(), tagged.Owner)
}

func TestAddRefusesNesting(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	_, err := Add(ctx, svc, "|rig|arm", "arm")
	require.NoError(t, err)

	_, err = Add(ctx, svc, "|rig", "rig")
	require.ErrorIs(t, err, ErrNestedExportTag)
	_, err = Add(ctx, svc, "|rig|arm|hand", "hand")
	require.ErrorIs(t, err, ErrNestedExportTag)

	_, err = Add(ctx, svc, "|rig|leg", "leg")
	require.NoError(t, err)

	under, err := FindUnder(ctx, svc, "|rig")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"arm", "leg"}, notes(t, ctx, under))
	above, err := FindAbove(ctx, svc, "|rig|arm|hand")
	require.NoError(t, err)
	assert.Equal(t, []string{"arm"}, notes(t, ctx, above))
}

func TestNestingRuleBlocksDirectWrites(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	tag, err := Add(ctx, svc, "|rig", "rig")
	require.NoError(t, err)

	_, err = svc.Create(ctx, ClassTag, core.Tagging("|rig|arm"))
	var rv core.RuleViolationError
	require.True(t, errors.As(err, &rv))
	assert.Equal(t, nestingRuleName, rv.Result.Violations[0].Rule)

	other, err := Add(ctx, svc, "|prop", "prop")
	require.NoError(t, err)
	err = svc.ConnectTo(ctx, other.ID(), "|rig")
	require.True(t, errors.As(err, &rv))

	members, err := svc.GetTagged(ctx, tag.ID())
	require.NoError(t, err)
	assert.Equal(t, []core.MemberID{"|rig"}, members)
}

func TestFindOrdersAndFilters(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	for m, note := range map[core.MemberID]string{"|b": "beta", "|a": "Alpha", "|g": "gamma"} {
		_, err := Add(ctx, svc, m, note)
		require.NoError(t, err)
	}
	require.NoError(t, SetActive(ctx, svc, false, "|g"))

	all, err := Find(ctx, svc, FindOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Alpha", "beta", "gamma"}, notes(t, ctx, all))

	active, err := Find(ctx, svc, FindOptions{ActiveOnly: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"Alpha", "beta"}, notes(t, ctx, active))

	named, err := Find(ctx, svc, FindOptions{Notes: []string{"gamma"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"gamma"}, notes(t, ctx, named))
}

func TestInvalidTagsAreSkippedAndRemoved(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	kept, err := Add(ctx, svc, "|keep", "keep")
	require.NoError(t, err)
	orphan, err := Add(ctx, svc, "|gone", "gone")
	require.NoError(t, err)
	require.NoError(t, svc.DisconnectFrom(ctx, orphan.ID(), "|gone"))

	valid, err := orphan.IsValid(ctx)
	require.NoError(t, err)
	assert.False(t, valid)

	found, err := Find(ctx, svc, FindOptions{ValidOnly: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"keep"}, notes(t, ctx, found))
	all, err := Find(ctx, svc, FindOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	removed, err := RemoveInvalid(ctx, svc)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	_, err = svc.Get(ctx, orphan.ID())
	var nf core.ErrNotFound
	require.True(t, errors.As(err, &nf))
	_, err = svc.Get(ctx, kept.ID())
	require.NoError(t, err)
}

func TestRemoveDeletesTagsOnMembers(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	for _, m := range []core.MemberID{"|a", "|b", "|c"} {
		_, err := Add(ctx, svc, m, m.ShortName())
		require.NoError(t, err)
	}
	removed, err := Remove(ctx, svc, "|a", "|c", "|missing")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	left, err := Find(ctx, svc, FindOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, notes(t, ctx, left))
	has, err := svc.HasMetaData(ctx, "|a", ClassTag, false)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestCopySkipsNoteAndLockedAttributes(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	src, err := Add(ctx, svc, "|src", "source")
	require.NoError(t, err)
	dst, err := Add(ctx, svc, "|dst", "target")
	require.NoError(t, err)
	require.NoError(t, src.SetActive(ctx, false))
	require.NoError(t, src.Set(ctx, AutoUpdateAttr, false))
	require.NoError(t, src.SetTaskList(ctx, "src-tasks"))

	require.NoError(t, Copy(ctx, src, dst))

	note, err := dst.Note(ctx)
	require.NoError(t, err)
	assert.Equal(t, "target", note)
	active, err := dst.Active(ctx)
	require.NoError(t, err)
	assert.False(t, active)
	auto, err := dst.AutoUpdate(ctx)
	require.NoError(t, err)
	assert.False(t, auto)
	tasks, err := dst.TaskList(ctx)
	require.NoError(t, err)
	assert.Equal(t, "", tasks)
}

func TestFromRejectsOtherClasses(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	h, err := svc.Create(ctx, "")
	require.NoError(t, err)
	_, err = From(h)
	assert.Error(t, err)
}
