package e2e

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittomds/pkg/idmap"
	"github.com/marmos91/dittomds/pkg/stats"
	"github.com/marmos91/dittomds/pkg/xattr"
)

func TestXattrRoundTrip(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		c := tc.Dial(UserCaller)
		ctx := testCtx(t)

		_, err := c.Set(ctx, FileFID, "user.color", []byte("blue"), xattr.SetNone)
		require.NoError(t, err)
		_, err = c.Set(ctx, FileFID, "user.empty", []byte{}, xattr.SetNone)
		require.NoError(t, err)

		value, err := c.Get(ctx, FileFID, "user.color")
		require.NoError(t, err)
		assert.Equal(t, []byte("blue"), value)

		size, err := c.Size(ctx, FileFID, "user.empty")
		require.NoError(t, err)
		assert.Equal(t, 0, size)

		names, err := c.List(ctx, FileFID)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"user.color", "user.empty"}, names)

		entries, err := c.GetAll(ctx, FileFID, 1024)
		require.NoError(t, err)
		got := make(map[string]string, len(entries))
		for _, e := range entries {
			got[e.Name] = string(e.Value)
		}
		assert.Equal(t, map[string]string{"user.color": "blue", "user.empty": ""}, got)

		_, err = c.Remove(ctx, FileFID, "user.color")
		require.NoError(t, err)

		_, err = c.Get(ctx, FileFID, "user.color")
		assert.True(t, xattr.IsNotFound(err), "got %v", err)

		// Attributes are per object
		names, err = c.List(ctx, RootFID)
		require.NoError(t, err)
		assert.Empty(t, names)
	})
}

func TestXattrCreateReplace(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		c := tc.Dial(UserCaller)
		ctx := testCtx(t)

		_, err := c.Set(ctx, FileFID, "user.k", []byte("v1"), xattr.SetReplace)
		assert.True(t, xattr.IsNotFound(err), "replace of a missing name: %v", err)

		first, err := c.Set(ctx, FileFID, "user.k", []byte("v1"), xattr.SetCreate)
		require.NoError(t, err)

		_, err = c.Set(ctx, FileFID, "user.k", []byte("v2"), xattr.SetCreate)
		assert.True(t, xattr.IsCode(err, xattr.ErrExists), "got %v", err)

		second, err := c.Set(ctx, FileFID, "user.k", []byte("v2"), xattr.SetReplace)
		require.NoError(t, err)
		assert.Greater(t, second.Version, first.Version)

		value, err := c.Get(ctx, FileFID, "user.k")
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), value)

		_, err = c.Set(ctx, FileFID, "user.k", []byte("v3"), xattr.SetCreate|xattr.SetReplace)
		assert.True(t, xattr.IsCode(err, xattr.ErrInvalid), "got %v", err)
	})
}

func TestXattrNamespaces(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		user := tc.Dial(UserCaller)
		admin := tc.Dial(AdminCaller)
		legacy := tc.DialFeatures(UserCaller, 0)
		ctx := testCtx(t)

		_, err := user.Set(ctx, FileFID, "trusted.custom", []byte("v"), xattr.SetNone)
		assert.True(t, xattr.IsCode(err, xattr.ErrPermission), "got %v", err)

		_, err = admin.Set(ctx, FileFID, "trusted.custom", []byte("v"), xattr.SetNone)
		require.NoError(t, err)

		value, err := user.Get(ctx, FileFID, "trusted.custom")
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), value)

		_, err = legacy.Set(ctx, FileFID, "user.a", []byte("v"), xattr.SetNone)
		assert.True(t, xattr.IsCode(err, xattr.ErrNotSupported), "got %v", err)

		reply, err := admin.Set(ctx, FileFID, xattr.NameLMA, []byte("payload"), xattr.SetNone)
		require.NoError(t, err)
		assert.True(t, reply.NoOp)

		_, err = admin.Get(ctx, FileFID, xattr.NameLMA)
		assert.True(t, xattr.IsNotFound(err), "reserved names are never stored: %v", err)

		value, err = user.Get(ctx, FileFID, xattr.NameLOV)
		require.NoError(t, err)
		assert.Empty(t, value)
	})
}

func TestXattrACLs(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		c := tc.Dial(UserCaller)
		ctx := testCtx(t)

		acl := aclWithUsers(2000, 2001)
		_, err := c.Set(ctx, FileFID, xattr.NameACLAccess, acl, xattr.SetNone)
		require.NoError(t, err)

		value, err := c.Get(ctx, FileFID, xattr.NameACLAccess)
		require.NoError(t, err)
		assert.Equal(t, acl, value)

		uids := make([]uint32, 40)
		for i := range uids {
			uids[i] = uint32(3000 + i)
		}
		large := aclWithUsers(uids...)
		require.Greater(t, len(large), xattr.LegacyMaxACLSize)

		small := tc.DialFeatures(UserCaller, xattr.FeatureXattr|xattr.FeatureACL)
		_, err = small.Set(ctx, FileFID, xattr.NameACLDefault, large, xattr.SetNone)
		assert.True(t, xattr.IsCode(err, xattr.ErrRange), "got %v", err)

		_, err = c.Set(ctx, FileFID, xattr.NameACLDefault, large, xattr.SetNone)
		require.NoError(t, err)
	})
}

func TestXattrConcurrentWriters(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		const writers = 8
		ctx := testCtx(t)

		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for i := 0; i < writers; i++ {
			c := tc.Dial(UserCaller)
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				name := fmt.Sprintf("user.writer%d", i)
				if _, err := c.Set(ctx, FileFID, name, []byte(name), xattr.SetCreate); err != nil {
					errs <- fmt.Errorf("%s: %w", name, err)
				}
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Error(err)
		}

		names, err := tc.Dial(UserCaller).List(ctx, FileFID)
		require.NoError(t, err)
		assert.Len(t, names, writers)
		assert.Equal(t, uint64(writers), tc.Stats.Get(stats.CounterSetxattr))
	})
}

func TestXattrPersistsAcrossRestart(t *testing.T) {
	runOnConfig(t, "badger", func(t *testing.T, tc *TestContext) {
		ctx := testCtx(t)

		_, err := tc.Dial(AdminCaller).Set(ctx, FileFID, "trusted.owner", []byte("ops"), xattr.SetNone)
		require.NoError(t, err)

		tc.Restart()

		value, err := tc.Dial(UserCaller).Get(ctx, FileFID, "trusted.owner")
		require.NoError(t, err)
		assert.Equal(t, []byte("ops"), value)
	})
}

func aclWithUsers(uids ...uint32) []byte {
	acl := &idmap.ACL{Version: idmap.ACLVersion}
	acl.Entries = append(acl.Entries, idmap.ACLEntry{Tag: idmap.TagUserObj, Perm: 6, ID: idmap.UndefinedID})
	for _, uid := range uids {
		acl.Entries = append(acl.Entries, idmap.ACLEntry{Tag: idmap.TagUser, Perm: 4, ID: uid})
	}
	acl.Entries = append(acl.Entries,
		idmap.ACLEntry{Tag: idmap.TagGroupObj, Perm: 4, ID: idmap.UndefinedID},
		idmap.ACLEntry{Tag: idmap.TagMask, Perm: 4, ID: idmap.UndefinedID},
		idmap.ACLEntry{Tag: idmap.TagOther, Perm: 0, ID: idmap.UndefinedID},
	)
	return acl.Encode()
}
