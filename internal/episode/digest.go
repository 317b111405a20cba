package episode

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"math"
	"sort"

	"github.com/mojoee/Abmarl/internal/sim"
	"github.com/mojoee/Abmarl/internal/space"
)

// stateDigest hashes what a replay must reproduce: agent positions,
// observations, rewards and the done flag. Episode ids are random and left
// out.
func stateDigest(tick uint64, seq int, agents map[sim.AgentID]*sim.Agent, obs map[sim.AgentID]space.Value, rewards map[string]float64, done bool) string {
	h := sha256.New()
	var tmp [8]byte
	writeU64 := func(v uint64) {
		binary.LittleEndian.PutUint64(tmp[:], v)
		h.Write(tmp[:])
	}
	writeString := func(s string) {
		writeU64(uint64(len(s)))
		h.Write([]byte(s))
	}

	writeU64(tick)
	writeU64(uint64(seq))
	for _, id := range sim.SortedIDs(agents) {
		a := agents[id]
		writeString(id)
		writeU64(uint64(int64(a.Pos.R)))
		writeU64(uint64(int64(a.Pos.C)))
		if v, ok := obs[id]; ok {
			// encoding/json sorts map keys, so equal values encode equally.
			b, err := json.Marshal(v)
			if err != nil {
				b = []byte(err.Error())
			}
			writeString(string(b))
		}
		if rw, ok := rewards[id]; ok {
			writeU64(math.Float64bits(rw))
		}
	}
	if done {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
