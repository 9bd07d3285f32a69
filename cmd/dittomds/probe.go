package main

import (
	"context"
	"flag"
	"fmt"
	"strconv"
	"time"

	"github.com/marmos91/dittomds/pkg/client"
	"github.com/marmos91/dittomds/pkg/fid"
	"github.com/marmos91/dittomds/pkg/server"
	"github.com/marmos91/dittomds/pkg/xattr"
)

// runProbe connects to a server and prints the attributes of one object:
// a single value with -name, every name and value otherwise.
func runProbe(args []string) error {
	fs := flag.NewFlagSet("probe", flag.ExitOnError)
	addr := fs.String("addr", "127.0.0.1"+server.DefaultListenAddress, "Server address")
	object := fs.String("fid", "", "Object FID, e.g. [0x200000401:0x1:0x0]")
	name := fs.String("name", "", "Attribute to read (default: all)")
	uid := fs.Uint("uid", 0, "Caller uid")
	gid := fs.Uint("gid", 0, "Caller gid")
	timeout := fs.Duration("timeout", 5*time.Second, "Overall timeout")
	_ = fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	c, err := client.Dial(ctx, *addr, client.Options{
		Features: xattr.FeatureXattr | xattr.FeatureACL | xattr.FeatureLargeACL,
		Caller:   xattr.Caller{UID: uint32(*uid), GID: uint32(*gid)},
	})
	if err != nil {
		return err
	}
	defer c.Close()

	fmt.Printf("connected: id=%s features=%s max_ea_size=%d\n", c.ConnID(), c.Features(), c.MaxEASize())

	if *object == "" {
		return c.Null(ctx)
	}

	f, err := fid.Parse(*object)
	if err != nil {
		return err
	}

	if *name != "" {
		value, err := c.Get(ctx, f, *name)
		if err != nil {
			return err
		}
		fmt.Printf("%s=%s\n", *name, strconv.Quote(string(value)))
		return nil
	}

	entries, err := c.GetAll(ctx, f, xattr.SizeMax)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d attribute(s)\n", f, len(entries))
	for _, e := range entries {
		fmt.Printf("  %s=%s\n", e.Name, strconv.Quote(string(e.Value)))
	}
	return nil
}
