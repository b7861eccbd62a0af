// Command kernel boots the process execution core with fake platform hooks
// and walks a trivial load-and-run demo, printing what the loader and
// scheduler did. It has no ELF image of its own to load by default;
// pass one with -elf to exercise SpawnELF end to end.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/kngarcia/SO-Decentralizado/internal/kernel"
	"github.com/kngarcia/SO-Decentralizado/internal/platform"
)

func main() {
	elfPath := flag.String("elf", "", "path to a static ELF64 executable to load and run")
	nframes := flag.Int("frames", 4096, "simulated physical memory size, in pages")
	reserved := flag.Int("reserved", 64, "frames reserved for the kernel image at boot")
	flag.Parse()

	hooks := platform.NewFake()
	k, err := kernel.New(kernel.Config{NFrames: *nframes, ReservedFrames: *reserved, Hooks: hooks})
	if err != nil {
		fmt.Fprintln(os.Stderr, "boot failed:", err)
		os.Exit(1)
	}
	defer k.Close()

	fmt.Printf("booted: %d frames (%d reserved)\n", k.Phys.NFrames(), k.Phys.ReservedFrames())

	if *elfPath == "" {
		fmt.Println("no -elf given; boot-only demo complete")
		return
	}

	img, err := os.ReadFile(*elfPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "reading elf image:", err)
		os.Exit(1)
	}

	p, err := k.SpawnELF(*elfPath, img)
	if err != nil {
		fmt.Fprintln(os.Stderr, "loading elf image:", err)
		os.Exit(1)
	}
	fmt.Printf("spawned pid=%d entry=0x%x\n", p.Id, p.Frame.RIP)

	frame, ok := k.Sched.Start()
	if !ok {
		fmt.Fprintln(os.Stderr, "scheduler has nothing runnable")
		os.Exit(1)
	}
	fmt.Printf("scheduled pid=%d rip=0x%x rsp=0x%x\n", p.Id, frame.RIP, frame.RSP)
}
