package main

import (
	"log"

	"defs"
	"dispatch"
)

// chanEndpoint is the in-process stand-in for the kernel's shared IPC
// endpoint (§1 treats the microkernel boundary as a given; there is no
// seL4_Wait/seL4_Reply pair to wrap without a real kernel underneath this
// entry point). Messages are fed in by whatever stands in for client
// threads; Reply just logs, since there is no real reply capability to
// invoke.
type chanEndpoint struct {
	in chan dispatch.Msg
}

func newChanEndpoint() *chanEndpoint {
	return &chanEndpoint{in: make(chan dispatch.Msg, 64)}
}

func (c *chanEndpoint) Wait() (dispatch.Msg, defs.Err_t) {
	return <-c.in, 0
}

func (c *chanEndpoint) Reply(replyCap uint64, regs [dispatch.NumRegs]uint64) {
	log.Printf("sosd: reply cap=%d regs=%v", replyCap, regs)
}

// Send enqueues a message as if it had arrived over the kernel endpoint,
// for whatever in-process client stands in for a real one.
func (c *chanEndpoint) Send(m dispatch.Msg) {
	c.in <- m
}
