package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/ElishaAz/VR-Navigation/pkg/client"
	"github.com/ElishaAz/VR-Navigation/pkg/graph"
	"github.com/ElishaAz/VR-Navigation/pkg/logging"
	"github.com/ElishaAz/VR-Navigation/pkg/mcp"
	"github.com/ElishaAz/VR-Navigation/pkg/pkgstore"
)

// storeFlags are shared by the commands that work on a local map store.
type storeFlags struct {
	data       *string
	duplicates *string
	verbose    *bool
}

func addStoreFlags(fs *flag.FlagSet) storeFlags {
	def := os.Getenv("VRNAV_DATA_DIR")
	if def == "" {
		def = "vrnav-data"
	}
	return storeFlags{
		data:       fs.String("data", def, "data directory holding maps/ and tmp/"),
		duplicates: fs.String("duplicates", string(pkgstore.Reject), "duplicate import handling: reject|overwrite"),
		verbose:    fs.Bool("v", false, "verbose logging"),
	}
}

func (f storeFlags) open() (*pkgstore.Store, error) {
	dup, err := pkgstore.ParseDuplicatePolicy(*f.duplicates)
	if err != nil {
		return nil, err
	}
	opts := logging.Options{Level: slog.LevelWarn, Output: os.Stderr}
	if *f.verbose {
		opts.Level = slog.LevelDebug
	}
	return pkgstore.NewStore(pkgstore.Config{
		Root:       filepath.Join(*f.data, "maps"),
		Scratch:    filepath.Join(*f.data, "tmp", "extracted"),
		Duplicates: dup,
		Logger:     logging.New("vrnav", opts),
	}), nil
}

func newFlagSet(name string, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}

func cmdImport(ctx context.Context, args []string, out io.Writer) error {
	fs := newFlagSet("import", out)
	sf := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: vrnav import [-data dir] [-duplicates reject|overwrite] <archive>")
	}

	archive, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	st, err := sf.open()
	if err != nil {
		return err
	}
	info, slot, err := st.Import(ctx, archive)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Imported %s into %s\n", info, slot)
	return nil
}

func cmdList(args []string, out io.Writer) error {
	fs := newFlagSet("list", out)
	sf := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	st, err := sf.open()
	if err != nil {
		return err
	}
	maps, err := st.List()
	if err != nil {
		return err
	}
	if len(maps) == 0 {
		fmt.Fprintln(out, "No maps found.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tVERSION\tPATH")
	for _, m := range maps {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", m.Name, strconv.FormatFloat(m.Version, 'f', -1, 64), m.Path)
	}
	return tw.Flush()
}

func cmdInspect(args []string, out io.Writer) error {
	fs := newFlagSet("inspect", out)
	sf := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	var (
		info pkgstore.MapInfo
		g    *graph.Graph
		err  error
	)
	switch fs.NArg() {
	case 1:
		dir := fs.Arg(0)
		if info, err = pkgstore.ReadManifest(dir); err != nil {
			return err
		}
		if g, err = pkgstore.ReadGraph(dir); err != nil {
			return err
		}
	case 2:
		version, perr := strconv.ParseFloat(fs.Arg(1), 64)
		if perr != nil {
			return fmt.Errorf("invalid version %q", fs.Arg(1))
		}
		st, serr := sf.open()
		if serr != nil {
			return serr
		}
		info = pkgstore.MapInfo{Name: fs.Arg(0), Version: version}
		if _, g, err = st.Open(info); err != nil {
			return err
		}
	default:
		return errors.New("usage: vrnav inspect <map-dir> | vrnav inspect [-data dir] <name> <version>")
	}

	printGraph(out, info, g)
	return nil
}

func printGraph(out io.Writer, info pkgstore.MapInfo, g *graph.Graph) {
	fmt.Fprintf(out, "Map: %s\n", info)
	fmt.Fprintf(out, "Locations: %d, start %d, end points %v\n", g.Len(), g.Start().ID, g.Terminals())

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tIMAGE\tTRANSITIONS\tTEXTS")
	for _, loc := range g.AllLocations() {
		var edges []string
		for _, t := range g.TransitionsFrom(loc.ID) {
			edges = append(edges, fmt.Sprintf("%d@%g", t.To, t.Azimuth))
		}
		marker := ""
		if g.IsTerminal(loc.ID) {
			marker = " (end)"
		}
		fmt.Fprintf(tw, "%d%s\t%s\t%s\t%d\n", loc.ID, marker, loc.Path, strings.Join(edges, " "), len(loc.Texts))
	}
	tw.Flush()
}

func cmdConvertLegacy(args []string, out io.Writer) error {
	fs := newFlagSet("convert-legacy", out)
	version := fs.Float64("version", 1, "version written to map.info")
	name := fs.String("name", "", "map name (defaults to the legacy project name)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return errors.New("usage: vrnav convert-legacy [-version N] [-name NAME] <legacy.json> <out-dir>")
	}

	f, err := os.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer f.Close()

	g, err := graph.DecodeLegacy(f)
	if err != nil {
		return err
	}

	info := pkgstore.MapInfo{Name: *name, Version: *version}
	if info.Name == "" {
		info.Name = g.Name()
	}
	if err := info.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(fs.Arg(1), 0o755); err != nil {
		return err
	}
	if err := pkgstore.WriteMap(fs.Arg(1), info, g); err != nil {
		return err
	}
	fmt.Fprintf(out, "Converted %s (%d locations) into %s\n", info, g.Len(), fs.Arg(1))
	return nil
}

func cmdPack(args []string, out io.Writer) error {
	fs := newFlagSet("pack", out)
	format := fs.String("format", "", "archive format: zip|tar.zst|tar.xz (default from the file extension)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return errors.New("usage: vrnav pack [-format zip|tar.zst|tar.xz] <map-dir> <archive>")
	}
	dir, dst := fs.Arg(0), fs.Arg(1)

	f := pkgstore.Format(*format)
	if f == "" {
		f = formatFromName(dst)
	}
	if _, err := pkgstore.ParseFormat(string(f)); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".vrnav-pack-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := pkgstore.Pack(dir, tmp, f); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return err
	}
	fmt.Fprintf(out, "Packed %s into %s (%s)\n", dir, dst, f)
	return nil
}

func formatFromName(name string) pkgstore.Format {
	switch {
	case strings.HasSuffix(name, ".tar.zst"), strings.HasSuffix(name, ".tzst"):
		return pkgstore.FormatTarZst
	case strings.HasSuffix(name, ".tar.xz"), strings.HasSuffix(name, ".txz"):
		return pkgstore.FormatTarXz
	default:
		return pkgstore.FormatZip
	}
}

func cmdPush(ctx context.Context, args []string, out io.Writer) error {
	fs := newFlagSet("push", out)
	endpoint := fs.String("endpoint", os.Getenv("VRNAV_ENDPOINT"), "vrnav-d base URL")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: vrnav push [-endpoint URL] <archive>")
	}

	archive, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	entry, err := client.NewClient(*endpoint).ImportMap(ctx, archive)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Uploaded %s v%g\n", entry.Name, entry.Version)
	return nil
}

func cmdMCP(args []string, out io.Writer) error {
	fs := newFlagSet("mcp", out)
	endpoint := fs.String("endpoint", os.Getenv("VRNAV_ENDPOINT"), "vrnav-d base URL")
	if err := fs.Parse(args); err != nil {
		return err
	}
	url := *endpoint
	if url == "" {
		url = client.DefaultEndpoint
	}
	return mcp.NewServer(url).Serve()
}
