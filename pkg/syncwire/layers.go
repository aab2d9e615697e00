package syncwire

// Layer identifies one dependency-ordered group of synchronizable tables.
type Layer string

const (
	LayerGlobals       Layer = "globals"
	LayerLorebooks     Layer = "lorebooks"
	LayerCharacters    Layer = "characters"
	LayerSessions      Layer = "sessions"
	LayerGroupSessions Layer = "group_sessions"
)

// LayerOrder is the transfer order. Characters reference lorebooks, sessions
// and group sessions reference characters, so a receiver that applies layers
// in this order never sees a row before its dependencies.
var LayerOrder = []Layer{
	LayerGlobals,
	LayerLorebooks,
	LayerCharacters,
	LayerSessions,
	LayerGroupSessions,
}

// LegacyLayerOrder is the three-layer content set spoken by pre-V2 peers,
// before settings sync and group sessions existed.
var LegacyLayerOrder = []Layer{
	LayerLorebooks,
	LayerCharacters,
	LayerSessions,
}

// Index returns the position of l in LayerOrder, or -1 for an unknown layer.
func (l Layer) Index() int {
	for i, known := range LayerOrder {
		if known == l {
			return i
		}
	}
	return -1
}

// Valid reports whether l is a known layer.
func (l Layer) Valid() bool { return l.Index() >= 0 }

// Manifest maps, per layer, every synchronizable row id to its updated_at
// timestamp in milliseconds. It is the structure both peers exchange to
// compute their push sets.
type Manifest map[Layer]map[string]int64

// Rows returns the id map for a layer, never nil.
func (m Manifest) Rows(l Layer) map[string]int64 {
	if rows, ok := m[l]; ok {
		return rows
	}
	return map[string]int64{}
}

// Total counts rows across all layers.
func (m Manifest) Total() int {
	n := 0
	for _, rows := range m {
		n += len(rows)
	}
	return n
}
