package realtime

import "github.com/matheus3301/duet/internal/sched"

func SetHandleState(h *Handle, s ChannelState) { h.setState(s) }

func (r *Registry) SetRetry(name string, t sched.Task) { r.setRetry(name, t) }
