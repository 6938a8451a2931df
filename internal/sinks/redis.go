// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sinks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"octoguard/internal/engine"
)

// publishTimeout bounds each PUBLISH so a slow Redis cannot stall the
// coordinator between ticks.
const publishTimeout = 100 * time.Millisecond

// RedisPublisher pushes alert and detection events to a Redis channel so
// external responders can subscribe without tailing the log file. Stats
// lines stay local: they are high-volume and the channel is for actionable
// events. Publish failures are dropped silently — the log sink remains the
// authoritative stream.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher connects a publisher to the given address and channel.
// The connection is verified once at startup so a bad address fails fast.
func NewRedisPublisher(ctx context.Context, addr, channel string) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &RedisPublisher{client: client, channel: channel}, nil
}

func (p *RedisPublisher) publish(tag string, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	_ = p.client.Publish(ctx, p.channel, tag+" "+string(payload)).Err()
}

// OnStats is a no-op; see the type comment.
func (p *RedisPublisher) OnStats(engine.Report) {}

// OnAlert publishes an ALERT event.
func (p *RedisPublisher) OnAlert(a engine.Alert) {
	p.publish(TagAlert, alertLine{TS: time.Now().UnixMilli(), Level: a.Level.String(), Reason: a.Reason})
}

// OnDetect publishes the DETECT event.
func (p *RedisPublisher) OnDetect(d engine.Detection) {
	p.publish(TagDetect, detectLine{
		TS:            time.Now().UnixMilli(),
		LatencyMS:     d.LatencyMS,
		Amplification: d.Amplification,
		TotalBytes:    d.TotalBytes,
		TotalPkts:     d.TotalPackets,
	})
}

// Close releases the client.
func (p *RedisPublisher) Close() error { return p.client.Close() }
