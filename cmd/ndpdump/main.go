// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// ndpdump subscribes to one RX channel of an NFB card and prints a
// one-line decode of every frame it receives, in the manner of tcpdump.
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"os/signal"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"golang.org/x/time/rate"

	"github.com/CESNET/ndk-sw-sub000/bus"
	"github.com/CESNET/ndk-sw-sub000/fdt"
	"github.com/CESNET/ndk-sw-sub000/ndp"
)

func dumpFrame(count int, data []byte) {
	pkt := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	summary := pkt.String()
	if eth, ok := pkt.LinkLayer().(*layers.Ethernet); ok {
		summary = fmt.Sprintf("%s -> %s ethertype %s", eth.SrcMAC, eth.DstMAC, eth.EthernetType)
	}
	fmt.Printf("%6d  len=%-5d %s\n", count, len(data), summary)
}

// app is this process's comp.App identity for cooperative locking.
type app struct{}

// maskedDelta computes (a-b) mod size, the wrapping byte distance between
// two ring offsets.
func maskedDelta(a, b uint64, size int) uint64 {
	return (a - b) & uint64(size-1)
}

// run opens the RX queue's controller component, subscribes, starts the
// channel, and prints frames until ctx is canceled.
func run(ctx context.Context, dev *ndp.Device, b *bus.Bus, queue int, limiter *rate.Limiter) error {
	qi, err := dev.Queue(ndp.RX, queue)
	if err != nil {
		return err
	}
	if qi.CtrlPath == "" {
		return fmt.Errorf("ndpdump: rx queue %d has no ctrl phandle in its fdt node", queue)
	}

	c, err := dev.OpenComp(b, app{}, qi.CtrlPath)
	if err != nil {
		return err
	}
	ch, err := dev.OpenChannel(c, ndp.RX, queue, ndp.DefaultRingSize/ndp.DefaultBlockSize, ndp.DefaultBlockSize)
	if err != nil {
		return err
	}

	sub := ndp.NewSubscription()
	if _, err := sub.Attach(ch, 0); err != nil {
		return err
	}
	defer sub.Detach()

	if err := sub.Start(ndp.StartParams{NbDesc: 4096, NbHdr: 4096, NbData: 4096, BufferSize: qi.BufferSize}); err != nil {
		return err
	}
	defer sub.Stop(true)

	subscriber := ndp.NewSubscriber(limiter)
	subscriber.Add(sub)

	count := 0
	args := ndp.SyncArgs{}
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		out, err := sub.Sync(args)
		if err != nil {
			return err
		}
		if out.Hwptr == args.Swptr {
			if err := subscriber.Wait(ctx); err != nil {
				return err
			}
			continue
		}
		// A production consumer would decode the header ring to find each
		// individual frame's offset and length within [args.Swptr,
		// out.Hwptr); without a header-ring Comp wired in here, ndpdump
		// decodes the whole newly-arrived span as one gopacket.Packet,
		// which is only accurate when exactly one frame arrived.
		n := int(maskedDelta(out.Hwptr, args.Swptr, ch.Ring().Size))
		if n > 0 {
			if data, err := ch.Ring().Window(int(args.Swptr), n); err == nil {
				count++
				dumpFrame(count, data)
			}
		}
		args.Swptr = out.Hwptr
	}
}

func mainImpl() error {
	fdtPath := flag.String("fdt", "", "path to a binary FDT blob (e.g. a debugfs dump of the card's tree)")
	resource := flag.String("resource", "", "sysfs path to the card's MI BAR resource file")
	resourceSize := flag.Int("resource-size", 1<<20, "size in bytes of the MI BAR window")
	queue := flag.Int("q", 0, "RX queue index to dump")
	pollRate := flag.Float64("rate", 1000, "maximum sync polls per second")
	verbose := flag.Bool("v", false, "verbose mode")
	flag.Parse()

	if !*verbose {
		log.SetOutput(ioutil.Discard)
	}
	log.SetFlags(log.Lmicroseconds)

	if *fdtPath == "" || *resource == "" {
		return fmt.Errorf("ndpdump: -fdt and -resource are required")
	}
	blob, err := ioutil.ReadFile(*fdtPath)
	if err != nil {
		return err
	}
	tree, err := fdt.Parse(blob)
	if err != nil {
		return err
	}
	dev, err := ndp.OpenDevice(tree)
	if err != nil {
		return err
	}

	b, err := bus.Open(*resource, *resourceSize, bus.Uncacheable, binary.LittleEndian)
	if err != nil {
		return err
	}
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	chanSignal := make(chan os.Signal, 1)
	signal.Notify(chanSignal, os.Interrupt)
	go func() {
		<-chanSignal
		cancel()
	}()

	limiter := rate.NewLimiter(rate.Limit(*pollRate), 1)
	return run(ctx, dev, b, *queue, limiter)
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "ndpdump: %s.\n", err)
		os.Exit(1)
	}
}
