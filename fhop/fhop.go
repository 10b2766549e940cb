// Package fhop maintains the frequency-hopping channel sequence both ends
// of a link step through together. Both peers derive the same pseudo-random
// permutation of channel numbers from the shared network ID, so as long as
// their TDM phases stay in lock step they land on the same channel at the
// same time without ever exchanging hop state over the air.
package fhop

import "math/rand"

// UnlockedCountRescan is the number of consecutive link-update periods with
// no received packet after which the link is considered unlocked and the
// MAC should start adding resync jitter, matching the original firmware's
// UNLOCKED_COUNT_RESCAN.
const UnlockedCountRescan = 10

// Plan is the per-link hop sequence and lock-state tracker. It is not safe
// for concurrent use.
type Plan struct {
	channels []uint8
	current  int

	locked      bool
	unlockCount int
}

// NewPlan builds a Plan for numChannels channels (0..numChannels-1), ordered
// by a permutation seeded deterministically from netID so that both ends of
// a link, configured with the same network ID, derive an identical
// sequence.
func NewPlan(netID uint16, numChannels int) *Plan {
	if numChannels < 1 {
		numChannels = 1
	}
	channels := make([]uint8, numChannels)
	for i := range channels {
		channels[i] = uint8(i)
	}
	rng := rand.New(rand.NewSource(int64(netID)))
	rng.Shuffle(len(channels), func(i, j int) {
		channels[i], channels[j] = channels[j], channels[i]
	})
	return &Plan{channels: channels, locked: true}
}

// WindowChange advances to the next channel in the sequence. The MAC calls
// this on every entry to TX and to SILENCE1, i.e. twice per full round.
func (p *Plan) WindowChange() {
	p.current = (p.current + 1) % len(p.channels)
}

// TransmitChannel and ReceiveChannel return the channel to use right now.
// Both ends hop in lock step so they are always the same channel.
func (p *Plan) TransmitChannel() uint8 { return p.channels[p.current] }
func (p *Plan) ReceiveChannel() uint8  { return p.channels[p.current] }

// NumChannels returns how many channels this plan cycles through.
func (p *Plan) NumChannels() int { return len(p.channels) }

// SetLocked records whether a packet was seen recently enough to consider
// the link frequency-synchronized, resetting the unlock counter on
// re-acquisition.
func (p *Plan) SetLocked(locked bool) {
	p.locked = locked
	if locked {
		p.unlockCount = 0
	}
}

// Locked reports the current lock state.
func (p *Plan) Locked() bool { return p.locked }

// NoteLinkUpdate should be called once per link-update period (roughly
// every 0.5s). It increments the unlock counter when the link is not
// locked and returns true once the counter crosses UnlockedCountRescan,
// signalling the MAC should start injecting resync jitter.
func (p *Plan) NoteLinkUpdate() bool {
	if p.locked {
		return false
	}
	p.unlockCount++
	return p.unlockCount > UnlockedCountRescan
}
