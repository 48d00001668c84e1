// Atlaswire - Open Data Integration Framework for Live Geospatial Feeds
// Copyright 2026 The Atlaswire Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/atlaswire/atlaswire

package supervisor

import (
	"context"
	"fmt"

	"github.com/thejerf/suture/v4"

	"github.com/atlaswire/atlaswire/internal/actor"
)

// SystemService runs an actor system under the supervisor tree. The actor
// system's own shutdown (signal, explicit, or escalated failure) ends the
// whole tree; it is not something to restart around.
type SystemService struct {
	sys *actor.System
}

func NewSystemService(sys *actor.System) *SystemService {
	return &SystemService{sys: sys}
}

// Serve blocks in the actor system's request loop. Any return means the
// process is done.
func (s *SystemService) Serve(ctx context.Context) error {
	err := s.sys.ProcessRequests(ctx)
	if err != nil {
		return fmt.Errorf("actor system failed: %w: %w", err, suture.ErrTerminateSupervisorTree)
	}
	return suture.ErrTerminateSupervisorTree
}

func (s *SystemService) String() string { return "actor-system" }
