// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package gateway

// SelectLeastLoaded picks the Ready instance with the lowest load.
// Ties go to the lowest instance id, comparing slot numbers first so that
// "weather-2" sorts before "weather-10".
func SelectLeastLoaded(instances []Instance) (Instance, bool) {
	var (
		best  Instance
		found bool
	)
	for i := range instances {
		inst := instances[i]
		if !inst.Ready() {
			continue
		}
		if !found || inst.Load < best.Load || (inst.Load == best.Load && lowerID(inst, best)) {
			best = inst
			found = true
		}
	}
	return best, found
}

func lowerID(a, b Instance) bool {
	if a.AdapterName == b.AdapterName && a.Slot >= 0 && b.Slot >= 0 && a.Slot != b.Slot {
		return a.Slot < b.Slot
	}
	return a.ID < b.ID
}
