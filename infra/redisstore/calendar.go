package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kilianp07/cleandispatch/core/dispatch"
	"github.com/kilianp07/cleandispatch/core/model"
)

// reserveScript books a window on a worker's calendar unless another job of
// the worker overlaps it.
// KEYS[1] = calendar hash of the worker, field = job id, value = "start end" in unix ms
// ARGV[1] = job id
// ARGV[2] = start
// ARGV[3] = end
// Returns "" on success or the id of the conflicting job.
var reserveScript = redis.NewScript(`
local key = KEYS[1]
local job = ARGV[1]
local s = tonumber(ARGV[2])
local e = tonumber(ARGV[3])

local held = redis.call("HGETALL", key)
for i = 1, #held, 2 do
    local other = held[i]
    if other ~= job then
        local sep = string.find(held[i + 1], " ")
        local ostart = tonumber(string.sub(held[i + 1], 1, sep - 1))
        local oend = tonumber(string.sub(held[i + 1], sep + 1))
        if s < oend and ostart < e then
            return other
        end
    end
end
redis.call("HSET", key, job, ARGV[2] .. " " .. ARGV[3])
return ""
`)

// Calendar implements dispatch.Calendar on Redis hashes.
type Calendar struct {
	client redis.UniversalClient
	prefix string
}

func NewCalendar(client redis.UniversalClient, prefix string) *Calendar {
	return &Calendar{client: client, prefix: prefix}
}

func (c *Calendar) key(workerID string) string {
	return c.prefix + ":calendar:" + workerID
}

// Reserve runs the check and the write in one script, so two dispatchers can
// never book overlapping jobs for the same worker.
func (c *Calendar) Reserve(ctx context.Context, r model.Reservation) error {
	if err := r.Window.Validate(); err != nil {
		return err
	}
	res, err := reserveScript.Run(ctx, c.client, []string{c.key(r.WorkerID)},
		r.JobID, r.Window.Start.UnixMilli(), r.Window.End.UnixMilli()).Text()
	if err != nil {
		return fmt.Errorf("redis reserve %s: %w", r.WorkerID, err)
	}
	if res != "" {
		return fmt.Errorf("worker %s holds job %s: %w", r.WorkerID, res, dispatch.ErrReservationConflict)
	}
	return nil
}

func (c *Calendar) Release(ctx context.Context, workerID, jobID string) error {
	if err := c.client.HDel(ctx, c.key(workerID), jobID).Err(); err != nil {
		return fmt.Errorf("redis release %s: %w", workerID, err)
	}
	return nil
}

// Reservations lists the jobs a worker holds.
func (c *Calendar) Reservations(ctx context.Context, workerID string) ([]model.Reservation, error) {
	held, err := c.client.HGetAll(ctx, c.key(workerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis calendar %s: %w", workerID, err)
	}
	out := make([]model.Reservation, 0, len(held))
	for jobID, v := range held {
		w, err := parseWindow(v)
		if err != nil {
			return nil, fmt.Errorf("calendar %s job %s: %w", workerID, jobID, err)
		}
		out = append(out, model.Reservation{WorkerID: workerID, JobID: jobID, Window: w})
	}
	return out, nil
}

func parseWindow(v string) (model.TimeWindow, error) {
	start, end, ok := strings.Cut(v, " ")
	if !ok {
		return model.TimeWindow{}, fmt.Errorf("malformed window %q", v)
	}
	s, err := strconv.ParseInt(start, 10, 64)
	if err != nil {
		return model.TimeWindow{}, err
	}
	e, err := strconv.ParseInt(end, 10, 64)
	if err != nil {
		return model.TimeWindow{}, err
	}
	return model.TimeWindow{Start: time.UnixMilli(s).UTC(), End: time.UnixMilli(e).UTC()}, nil
}
