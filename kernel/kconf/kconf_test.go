package kconf

import (
	"bytes"
	"pebbleos/bootinfo"
	"pebbleos/kernel/kfmt"
	"pebbleos/kernel/mm"
	"strings"
	"testing"
)

func mockCmdLine(cmdLine string) func(bootinfo.CmdLineVisitor) {
	return func(visitor bootinfo.CmdLineVisitor) {
		for _, opt := range strings.Fields(cmdLine) {
			key, value := opt, opt
			if idx := strings.IndexByte(opt, '='); idx != -1 {
				key, value = opt[:idx], opt[idx+1:]
			}
			if !visitor(key, value) {
				return
			}
		}
	}
}

func TestLoad(t *testing.T) {
	defer func() {
		visitCmdLineFn = bootinfo.VisitCmdLine
		active = Defaults()
		kfmt.SetOutputSink(nil)
	}()

	specs := []struct {
		cmdLine string
		exp     Config
		expLog  string
	}{
		{
			"",
			Defaults(),
			"",
		},
		{
			"heapSize=256K timerHz=1000 kbdQueue=16 serial=off echo=off",
			Config{HeapStart: HeapStart, HeapSize: 256 * mm.Kb, TimerHz: 1000, ScancodeQueueSize: 16},
			"",
		},
		{
			"quiet heapSize=2M unknown=1 heapSize=65536",
			Config{HeapStart: HeapStart, HeapSize: 64 * mm.Kb, TimerHz: DefaultTimerHz, ScancodeQueueSize: DefaultScancodeQueueSize, Serial: true, KeyEcho: true},
			"",
		},
		{
			"heapSize=1K",
			Defaults(),
			"[kconf] ignoring invalid value for heapSize: 1K\n",
		},
		{
			"heapSize=lots timerHz=5 kbdQueue=0 serial=maybe",
			Defaults(),
			"[kconf] ignoring invalid value for heapSize: lots\n" +
				"[kconf] ignoring invalid value for timerHz: 5\n" +
				"[kconf] ignoring invalid value for kbdQueue: 0\n" +
				"[kconf] ignoring invalid value for serial: maybe\n",
		},
		{
			"heapSize=99999999999M kbdQueue=4097",
			Defaults(),
			"[kconf] ignoring invalid value for heapSize: 99999999999M\n" +
				"[kconf] ignoring invalid value for kbdQueue: 4097\n",
		},
	}

	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)

	for specIndex, spec := range specs {
		buf.Reset()
		visitCmdLineFn = mockCmdLine(spec.cmdLine)

		got := Load()
		if *got != spec.exp {
			t.Errorf("[spec %d] expected config %+v; got %+v", specIndex, spec.exp, *got)
		}

		if got != Active() {
			t.Errorf("[spec %d] expected Load to update the active config", specIndex)
		}

		if buf.String() != spec.expLog {
			t.Errorf("[spec %d] expected output:\n%q\ngot:\n%q", specIndex, spec.expLog, buf.String())
		}
	}
}

func TestParseSize(t *testing.T) {
	specs := []struct {
		in    string
		exp   mm.Size
		expOK bool
	}{
		{"4096", 4096, true},
		{"100K", 100 * mm.Kb, true},
		{"100k", 100 * mm.Kb, true},
		{"3M", 3 * mm.Mb, true},
		{"", 0, false},
		{"K", 0, false},
		{"-1", 0, false},
		{"12G", 0, false},
		{"2048M", 0, false},
	}

	for specIndex, spec := range specs {
		got, ok := parseSize(spec.in)
		if ok != spec.expOK || got != spec.exp {
			t.Errorf("[spec %d] parseSize(%q): expected (%d, %t); got (%d, %t)", specIndex, spec.in, spec.exp, spec.expOK, got, ok)
		}
	}
}
