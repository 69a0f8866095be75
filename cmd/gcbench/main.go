// gcbench drives a collector with a synthetic allocation workload and
// prints a pause summary.
package main

import (
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/inhies/go-bytesize"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/gcore/alloc"
	"github.com/chazu/gcore/config"
	"github.com/chazu/gcore/gc"
	"github.com/chazu/gcore/heap"
	"github.com/chazu/gcore/plan"
	"github.com/chazu/gcore/refproc"
	"github.com/chazu/gcore/vm"
	"github.com/chazu/gcore/vm/vmtest"
)

func main() {
	configDir := flag.String("config", ".", "Directory to search upwards for gc.toml")
	planKind := flag.String("plan", "", "Plan to run: nogc or semispace (overrides gc.toml)")
	threads := flag.Int("threads", 0, "Collector worker threads (overrides gc.toml)")
	mutators := flag.Int("mutators", 4, "Mutator goroutines")
	objects := flag.Int("objects", 200000, "Objects allocated per mutator")
	fields := flag.Int("fields", 4, "Reference fields per object")
	keep := flag.Int("keep", 1000, "Most recent objects each mutator keeps reachable")
	weakEvery := flag.Int("weak-every", 100, "Register a weak reference every N objects (0 disables)")
	db := flag.String("db", "", "SQLite file for pause history (overrides gc.toml)")
	verbosity := flag.Int("v", 0, "Log verbosity")
	var heapSize bytesize.ByteSize
	flag.Var(&heapSize, "heap", "Heap size, e.g. 64MB (overrides gc.toml)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: gcbench [options]\n\n")
		fmt.Fprintf(os.Stderr, "Allocates linked objects from several mutators and reports collector pauses.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  gcbench -heap 32MB -objects 1000000\n")
		fmt.Fprintf(os.Stderr, "  gcbench -plan nogc -heap 1GB\n")
		fmt.Fprintf(os.Stderr, "  gcbench -db pauses.db -v 2\n")
	}
	flag.Parse()

	cfg, err := config.FindAndLoad(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if *planKind != "" {
		cfg.Plan.Kind = *planKind
	}
	if *threads > 0 {
		cfg.Collection.Threads = *threads
	}
	if heapSize > 0 {
		cfg.Heap.Size = heapSize
	}
	if *db != "" {
		cfg.Stats.Database = *db
	}
	if *verbosity > cfg.Log.Verbosity {
		cfg.Log.Verbosity = *verbosity
	}
	cfg.ConfigureLogging()

	rt := vmtest.New()
	inst, err := gc.New(cfg, rt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	b := &bench{
		inst:      inst,
		rt:        rt,
		objects:   *objects,
		fields:    *fields,
		keep:      max(*keep, 1),
		weakEvery: *weakEvery,
	}
	start := time.Now()
	allocated, err := b.run(*mutators)
	elapsed := time.Since(start)
	report := inst.Report()
	rec := inst.Recorder()
	if cerr := inst.Close(); cerr != nil && err == nil {
		err = cerr
	}

	fmt.Printf("plan:        %s, %s heap, %d collector threads\n", report.Plan, cfg.Heap.Size, cfg.Collection.Threads)
	fmt.Printf("allocated:   %s objects, %s in %s\n",
		humanize.Comma(int64(allocated)), humanize.IBytes(uint64(allocated)*uint64(vmtest.ObjectBytes(*fields))), elapsed.Round(time.Millisecond))
	fmt.Printf("pauses:      %d, total %s", rec.Pauses(), rec.TotalPause().Round(time.Microsecond))
	if rec.Pauses() > 0 {
		fmt.Printf(", mean %s", (rec.TotalPause() / time.Duration(rec.Pauses())).Round(time.Microsecond))
	}
	fmt.Println()
	fmt.Printf("reclaimed:   %s\n", humanize.IBytes(uint64(max(rec.ReclaimedPages(), 0))*heap.BytesInPage))
	fmt.Printf("heap:        %s used of %s\n",
		humanize.IBytes(uint64(report.UsedPages)*heap.BytesInPage), humanize.IBytes(uint64(report.HeapPages)*heap.BytesInPage))
	fmt.Printf("references:  %d registered, %d enqueued\n", report.References, len(rt.Enqueued()))

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type bench struct {
	inst      *gc.Instance
	rt        *vmtest.Runtime
	objects   int
	fields    int
	keep      int
	weakEvery int

	// vmtest has no safepoints: a pause may move an object between Alloc
	// returning and the object being rooted, so mutator steps are serialized.
	safepoint sync.Mutex
}

func (b *bench) run(mutators int) (int, error) {
	var wg sync.WaitGroup
	counts := make([]int, mutators)
	errs := make([]error, mutators)
	for i := 0; i < mutators; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			counts[i], errs[i] = b.mutate(vm.MutatorThread(i + 1))
		}(i)
	}
	wg.Wait()

	total := 0
	for i, n := range counts {
		total += n
		if errs[i] != nil {
			return total, errs[i]
		}
	}
	return total, nil
}

// mutate allocates a chain of objects, keeping the newest b.keep reachable
// through a ring of roots.
func (b *bench) mutate(tls vm.MutatorThread) (int, error) {
	m, err := b.inst.BindMutator(tls)
	if err != nil {
		return 0, err
	}
	defer b.inst.DestroyMutator(m)

	ring := make([]*vmtest.Root, b.keep)
	defer func() {
		for _, r := range ring {
			if r != nil {
				b.rt.DropRoot(r)
			}
		}
	}()

	for n := 0; n < b.objects; n++ {
		if err := b.step(m, tls, ring, n); err != nil {
			return n, err
		}
	}
	return b.objects, nil
}

func (b *bench) step(m *plan.Mutator, tls vm.MutatorThread, ring []*vmtest.Root, n int) error {
	b.safepoint.Lock()
	defer b.safepoint.Unlock()

	obj, err := b.inst.Alloc(m, alloc.Default, vmtest.ObjectBytes(b.fields), heap.BytesInWord)
	if err != nil {
		return err
	}
	b.rt.InitObject(obj, b.fields)
	slot := n % len(ring)
	if prev := ring[(n+len(ring)-1)%len(ring)]; prev != nil && b.fields > 0 {
		b.rt.SetField(obj, 0, prev.Load())
	}
	if ring[slot] == nil {
		ring[slot] = b.rt.AddRoot(obj)
	} else {
		ring[slot].Store(obj)
	}
	// Cut the chain behind the oldest kept object.
	if oldest := ring[(slot+1)%len(ring)]; oldest != nil && b.fields > 0 {
		b.rt.SetField(oldest.Load(), 0, 0)
	}

	if b.weakEvery > 0 && n%b.weakEvery == 0 {
		ref, err := b.inst.Alloc(m, alloc.Default, vmtest.ObjectBytes(1), heap.BytesInWord)
		if err != nil {
			return err
		}
		// The allocation may have moved obj.
		b.rt.InitReference(ref, ring[slot].Load())
		if err := b.inst.AddCandidate(tls, refproc.Weak, ref); err != nil {
			return err
		}
	}
	return nil
}
