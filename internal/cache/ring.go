package cache

import (
	"hash/fnv"
	"sort"
	"strconv"
)

const VIRTUAL_POINTS = 128

// Ring maps arbitrary string keys onto a fixed set of cache nodes with
// consistent hashing: each node owns VIRTUAL_POINTS positions on a 32-bit
// circle and a key belongs to the first node position clockwise of its hash.
// Routing is a pure function of the key and the node set, so the same key
// always lands on the same node across calls and across process restarts.
type Ring struct {
	points []ringPoint
	nodes  []string
}

type ringPoint struct {
	hash uint32
	node string
}

func NewRing(nodes []string) *Ring {
	r := &Ring{nodes: append([]string(nil), nodes...)}
	for _, node := range nodes {
		for i := 0; i < VIRTUAL_POINTS; i++ {
			r.points = append(r.points, ringPoint{
				hash: hashKey(node + "#" + strconv.Itoa(i)),
				node: node,
			})
		}
	}
	sort.Slice(r.points, func(i, j int) bool { return r.points[i].hash < r.points[j].hash })
	return r
}

// Route returns the node that owns key. Empty rings route nowhere.
func (r *Ring) Route(key string) string {
	if len(r.points) == 0 {
		return ""
	}
	h := hashKey(key)
	i := sort.Search(len(r.points), func(i int) bool { return r.points[i].hash >= h })
	if i == len(r.points) {
		i = 0 // wrap around the circle
	}
	return r.points[i].node
}

// Nodes returns the node set the ring was built from.
func (r *Ring) Nodes() []string {
	return append([]string(nil), r.nodes...)
}

func hashKey(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32()
}
