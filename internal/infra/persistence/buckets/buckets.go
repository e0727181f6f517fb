// Package buckets splits a graph snapshot into the named JSON payloads the
// durable backends store, one row, key or hash field per bucket.
package buckets

import (
	"encoding/json"
	"fmt"
	"strconv"

	"metagraph/pkg/domain"
)

const (
	Nodes    = "nodes"
	Members  = "members"
	Sequence = "sequence"
)

// Names lists every bucket in write order.
var Names = []string{Nodes, Members, Sequence}

// Encode renders snapshot as one payload per bucket.
func Encode(snapshot domain.Snapshot) (map[string][]byte, error) {
	out := make(map[string][]byte, len(Names))
	nodes := snapshot.Nodes
	if nodes == nil {
		nodes = map[domain.NodeID]domain.Node{}
	}
	members := snapshot.Members
	if members == nil {
		members = map[domain.MemberID]domain.Member{}
	}
	data, err := json.Marshal(nodes)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", Nodes, err)
	}
	out[Nodes] = data
	if data, err = json.Marshal(members); err != nil {
		return nil, fmt.Errorf("encode %s: %w", Members, err)
	}
	out[Members] = data
	out[Sequence] = []byte(strconv.FormatUint(snapshot.Seq, 10))
	return out, nil
}

// Decode rebuilds a snapshot from stored payloads. Missing or empty buckets
// decode as empty; unknown buckets are ignored.
func Decode(payloads map[string][]byte) (domain.Snapshot, error) {
	var snapshot domain.Snapshot
	for bucket, payload := range payloads {
		if len(payload) == 0 {
			continue
		}
		switch bucket {
		case Nodes:
			if err := json.Unmarshal(payload, &snapshot.Nodes); err != nil {
				return domain.Snapshot{}, fmt.Errorf("decode %s: %w", bucket, err)
			}
		case Members:
			if err := json.Unmarshal(payload, &snapshot.Members); err != nil {
				return domain.Snapshot{}, fmt.Errorf("decode %s: %w", bucket, err)
			}
		case Sequence:
			seq, err := strconv.ParseUint(string(payload), 10, 64)
			if err != nil {
				return domain.Snapshot{}, fmt.Errorf("decode %s: %w", bucket, err)
			}
			snapshot.Seq = seq
		}
	}
	return snapshot, nil
}
