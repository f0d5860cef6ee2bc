// Command imagepile is a CLI over the content-addressed block dedup
// store: it ingests raw disk image streams into a Pool/Index pair,
// reconstructs them back out, reports on dedup history, verifies
// on-disk integrity, and backs the store up to or restores it from a
// remote object store.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/graymeta/stow"

	"github.com/tarndt/imagepile/cmd/imagepile/conf"
	"github.com/tarndt/imagepile/pkg/archive"
	"github.com/tarndt/imagepile/pkg/archive/compress"
	"github.com/tarndt/imagepile/pkg/archive/encrypt"
	"github.com/tarndt/imagepile/pkg/critsec"
	"github.com/tarndt/imagepile/pkg/fingerprint"
	"github.com/tarndt/imagepile/pkg/ingest"
	"github.com/tarndt/imagepile/pkg/ledger"
	"github.com/tarndt/imagepile/pkg/pool"
	"github.com/tarndt/imagepile/pkg/reconstruct"
	"github.com/tarndt/imagepile/pkg/store"
)

var progName = fmt.Sprintf("imagepile (%s)", os.Args[0])

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	verb, args := os.Args[1], os.Args[2:]
	switch verb {
	case "add":
		cmdAdd(args)
	case "read":
		cmdRead(args)
	case "stat":
		cmdStat(args)
	case "verify":
		cmdVerify(args)
	case "backup":
		cmdBackup(args)
	case "restore":
		cmdRestore(args)
	case "help", "-help", "--help":
		usage()
	default:
		log.Fatalf("%s: unknown verb %q", progName, verb)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <add|read|stat|verify|backup|restore> [options]\n", os.Args[0])
}

// openInput opens path for reading, treating "-" as stdin.
func openInput(path string) (*os.File, error) {
	if path == "-" {
		return os.Stdin, nil
	}
	return os.Open(path)
}

// createOutput opens path for writing, treating "-" as stdout.
func createOutput(path string) (*os.File, error) {
	if path == "-" {
		return os.Stdout, nil
	}
	return os.Create(path)
}

// closeIfFile closes f unless it is stdin or stdout, which callers never own.
func closeIfFile(f *os.File) {
	if f != os.Stdin && f != os.Stdout {
		f.Close()
	}
}

func cmdAdd(args []string) {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	dir := fs.String("dir", "", "imagepile directory (defaults to $"+conf.ImgDirEnv+")")
	headSkip := fs.Uint("headskip", 0, "bytes of legacy alignment padding to skip on the first block")
	var maxPoolSize conf.Capacity
	conf.CapacityVar(fs, &maxPoolSize, "max-pool-size", 0, "refuse to ingest if the pool already exceeds this size, e.g. 10GiB (0 disables the check)")
	fs.Parse(args)
	if fs.NArg() != 2 {
		log.Fatalf("usage: %s add [options] <input-image> <descriptor-out> (- for stdin/stdout)", os.Args[0])
	}
	inPath, descPath := fs.Arg(0), fs.Arg(1)

	storeDir := conf.StoreDir(*dir)
	st, err := store.Open(conf.PoolPath(storeDir), conf.IndexPath(storeDir))
	if err != nil {
		log.Fatalf("Could not open imagepile store: %s", err)
	}
	defer st.Close()

	if maxPoolSize > 0 {
		if poolSize := conf.Capacity(st.Pool.Blocks()) * pool.BlockSize; poolSize >= maxPoolSize {
			log.Fatalf("Pool already holds %s, at or beyond the configured limit of %s", poolSize.String(), maxPoolSize.String())
		}
	}

	in, err := openInput(inPath)
	if err != nil {
		log.Fatalf("Could not open input image %q: %s", inPath, err)
	}
	defer closeIfFile(in)

	descFile, err := createOutput(descPath)
	if err != nil {
		log.Fatalf("Could not create descriptor %q: %s", descPath, err)
	}
	defer closeIfFile(descFile)

	watcher := critsec.Watch(os.Interrupt)
	defer watcher.Stop()

	startedAt := time.Now()
	blocksBefore := st.Pool.Blocks()
	ordinals, err := ingest.Run(st, in, descFile, uint32(*headSkip), watcher)
	if err != nil {
		log.Fatalf("Ingest failed: %s", err)
	}
	if err := st.Flush(); err != nil {
		log.Fatalf("Could not flush imagepile store: %s", err)
	}

	lg, err := ledger.Open(conf.LedgerPath(storeDir))
	if err != nil {
		log.Printf("Warning: could not open ledger to record this run: %s", err)
		return
	}
	defer lg.Close()
	blocksAfter := st.Pool.Blocks()
	if err := lg.Record(ledger.Entry{
		DescriptorPath: descPath,
		StartedAt:      startedAt,
		FinishedAt:     time.Now(),
		BlocksTotal:    uint32(ordinals),
		BlocksNovel:    blocksAfter - blocksBefore,
		HeadSkip:       uint32(*headSkip),
	}); err != nil {
		log.Printf("Warning: could not record ledger entry: %s", err)
	}

	log.Printf("%s: ingested %q into %q (pool now holds %d blocks)", progName, inPath, storeDir, st.Pool.Blocks())
}

func cmdRead(args []string) {
	fs := flag.NewFlagSet("read", flag.ExitOnError)
	dir := fs.String("dir", "", "imagepile directory (defaults to $"+conf.ImgDirEnv+")")
	fs.Parse(args)
	if fs.NArg() != 2 {
		log.Fatalf("usage: %s read [options] <descriptor> <output-image> (- for stdin/stdout)", os.Args[0])
	}
	descPath, outPath := fs.Arg(0), fs.Arg(1)

	storeDir := conf.StoreDir(*dir)
	st, err := store.Open(conf.PoolPath(storeDir), conf.IndexPath(storeDir))
	if err != nil {
		log.Fatalf("Could not open imagepile store: %s", err)
	}
	defer st.Close()

	descFile, err := openInput(descPath)
	if err != nil {
		log.Fatalf("Could not open descriptor %q: %s", descPath, err)
	}
	defer closeIfFile(descFile)

	out, err := createOutput(outPath)
	if err != nil {
		log.Fatalf("Could not create output image %q: %s", outPath, err)
	}
	defer closeIfFile(out)

	watcher := critsec.Watch(os.Interrupt)
	defer watcher.Stop()

	if err := reconstruct.Run(st.Pool, descFile, out, watcher); err != nil {
		log.Fatalf("Reconstruct failed: %s", err)
	}
	log.Printf("%s: reconstructed %q from %q", progName, outPath, descPath)
}

func cmdStat(args []string) {
	fs := flag.NewFlagSet("stat", flag.ExitOnError)
	dir := fs.String("dir", "", "imagepile directory (defaults to $"+conf.ImgDirEnv+")")
	fs.Parse(args)

	storeDir := conf.StoreDir(*dir)
	st, err := store.Open(conf.PoolPath(storeDir), conf.IndexPath(storeDir))
	if err != nil {
		log.Fatalf("Could not open imagepile store: %s", err)
	}
	defer st.Close()
	poolSize := conf.Capacity(st.Pool.Blocks()) * pool.BlockSize
	fmt.Printf("pool: %d blocks, %s\n", st.Pool.Blocks(), poolSize.String())
	if fi, err := os.Stat(conf.IndexPath(storeDir)); err == nil {
		indexSize := conf.Capacity(fi.Size())
		fmt.Printf("index: %s\n", indexSize.String())
	}

	lg, err := ledger.Open(conf.LedgerPath(storeDir))
	if err != nil {
		log.Fatalf("Could not open ledger: %s", err)
	}
	defer lg.Close()

	entries, err := lg.Totals()
	if err != nil {
		log.Fatalf("Could not read ledger: %s", err)
	}
	for _, e := range entries {
		fmt.Printf("%s: %d/%d blocks novel (%.1f%% deduped), head_skip=%d\n",
			e.DescriptorPath, e.BlocksNovel, e.BlocksTotal, e.DedupRatio()*100, e.HeadSkip)
	}
}

func cmdVerify(args []string) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	dir := fs.String("dir", "", "imagepile directory (defaults to $"+conf.ImgDirEnv+")")
	fs.Parse(args)

	storeDir := conf.StoreDir(*dir)
	st, err := store.Open(conf.PoolPath(storeDir), conf.IndexPath(storeDir))
	if err != nil {
		log.Fatalf("Could not open imagepile store: %s", err)
	}
	defer st.Close()

	if err := verifyStore(st); err != nil {
		log.Fatalf("Verification failed: %s", err)
	}
	log.Printf("%s: %d blocks verified consistent", progName, st.Pool.Blocks())
}

func cmdBackup(args []string)  { cmdArchive(args, true) }
func cmdRestore(args []string) { cmdArchive(args, false) }

func cmdArchive(args []string, backup bool) {
	verb := "restore"
	if backup {
		verb = "backup"
	}
	fs := flag.NewFlagSet(verb, flag.ExitOnError)
	dir := fs.String("dir", "", "imagepile directory (defaults to $"+conf.ImgDirEnv+")")
	kind := fs.String("kind", "s3", "remote object store kind")
	configJSON := fs.String("cfg", "", "stow config, as a JSON object")
	container := fs.String("container", "", "remote container name")
	compressName := fs.String("compress", compress.ModeS2Name, "archive compression: s2 or identity")
	encryptName := fs.String("encrypt", encrypt.ModeIdentityName, "archive encryption: aes-ctr or identity")
	keySpec := fs.String("key", "", "AES key source: key:<value>, file:<path> or env:<var>")
	fs.Parse(args)

	storeDir := conf.StoreDir(*dir)
	if *configJSON == "" || *container == "" {
		log.Fatalf("usage: %s %s -cfg=<JSON> -container=<name> [options]", os.Args[0], verb)
	}

	cfgMap := make(stow.ConfigMap)
	if err := parseJSONConfig(*configJSON, &cfgMap); err != nil {
		log.Fatalf("Could not parse -cfg: %s", err)
	}
	loc, err := stow.Dial(*kind, cfgMap)
	if err != nil {
		log.Fatalf("Could not dial remote object store: %s", err)
	}
	defer loc.Close()

	cont, err := loc.Container(*container)
	if err != nil {
		cont, err = loc.CreateContainer(*container)
	}
	if err != nil {
		log.Fatalf("Could not open remote container %q: %s", *container, err)
	}

	opts := archive.Options{Compress: compress.ModeFromName(*compressName)}
	if opts.Compress == compress.ModeUnknown {
		log.Fatalf("Unknown compression mode %q", *compressName)
	}
	if opts.Encrypt = encrypt.ModeFromName(*encryptName); opts.Encrypt == encrypt.ModeUnknown {
		log.Fatalf("Unknown encryption mode %q", *encryptName)
	}
	if opts.Encrypt != encrypt.ModeIdentity {
		if opts.Key, err = conf.ParseAESKey(*keySpec); err != nil {
			log.Fatalf("Could not resolve AES key: %s", err)
		}
		if err := encrypt.ValidAESKey(opts.Key); err != nil {
			log.Fatalf("Invalid AES key: %s", err)
		}
	}

	poolPath, indexPath := conf.PoolPath(storeDir), conf.IndexPath(storeDir)
	if backup {
		err = archive.Backup(cont, poolPath, indexPath, opts)
	} else {
		err = archive.Restore(cont, poolPath, indexPath, opts)
	}
	if err != nil {
		log.Fatalf("%s failed: %s", verb, err)
	}
	log.Printf("%s: %s of %q to/from %q complete", progName, verb, storeDir, *container)
}

// verifyStore re-reads every block in the Pool and confirms its freshly
// computed fingerprint still matches the fingerprint the Index recorded
// for that ordinal when the block was first appended. Bitrot in either
// file changes the fingerprint comparison; the lockstep invariant itself
// was already checked when store.Open paired the Pool against the Index.
func verifyStore(st *store.Store) error {
	buf := make([]byte, pool.BlockSize)
	return st.Index.ForEach(func(ordinal uint32, recorded uint64) error {
		if err := st.Pool.Read(ordinal, buf); err != nil {
			return fmt.Errorf("could not read block %d: %w", ordinal, err)
		}
		if got := fingerprint.Sum64(buf); got != recorded {
			return fmt.Errorf("block %d fingerprint mismatch: index has %x, pool block hashes to %x", ordinal, recorded, got)
		}
		return nil
	})
}

func parseJSONConfig(raw string, out *stow.ConfigMap) error {
	return json.Unmarshal([]byte(raw), out)
}
