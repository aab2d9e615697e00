package sync

import (
	"sort"

	"github.com/lettucelabs/lettuce/pkg/syncwire"
)

// PushSet computes, per layer, the ids this side must send: rows the peer
// lacks entirely plus rows where the local copy is strictly newer. The peer
// runs the same computation, which is how pulls happen without a separate
// request. Ids come back sorted so transfers are deterministic.
func PushSet(local, remote syncwire.Manifest, layers []syncwire.Layer) map[syncwire.Layer][]string {
	out := make(map[syncwire.Layer][]string, len(layers))
	for _, layer := range layers {
		remoteRows := remote.Rows(layer)
		var ids []string
		for id, updatedAt := range local.Rows(layer) {
			remoteAt, known := remoteRows[id]
			if !known || updatedAt > remoteAt {
				ids = append(ids, id)
			}
		}
		sort.Strings(ids)
		out[layer] = ids
	}
	return out
}

// idSet converts a push list into the set form the row collector takes.
func idSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
