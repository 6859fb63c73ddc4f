// Copyright 2026 The Senda Authors
// SPDX-License-Identifier: Apache-2.0

package resolution

// clusterRecords groups records whose points are linked by a chain of hops
// of at most distanceThreshold meters. Groups do not depend on the order of
// records; each group keeps its members in input order. Records without a
// point are ignored.
func clusterRecords(records []*Record, distanceThreshold float64) [][]*Record {
	clusters := make([][]*Record, 0, len(records))

	visited := make([]bool, len(records))

	for i, seed := range records {
		if visited[i] || seed.Point == nil {
			continue
		}

		visited[i] = true
		members := []int{i}

		// members doubles as the worklist: every new member is compared
		// against all unvisited records before the group is closed.
		for next := 0; next < len(members); next++ {
			current := records[members[next]]

			for j, candidate := range records {
				if visited[j] || candidate.Point == nil {
					continue
				}

				if current.Point.HaversineDistance(candidate.Point) <= distanceThreshold {
					visited[j] = true
					members = append(members, j)
				}
			}
		}

		clusters = append(clusters, inInputOrder(records, members))
	}

	return clusters
}

func inInputOrder(records []*Record, members []int) []*Record {
	in := make([]bool, len(records))
	for _, m := range members {
		in[m] = true
	}

	cluster := make([]*Record, 0, len(members))

	for i, r := range records {
		if in[i] {
			cluster = append(cluster, r)
		}
	}

	return cluster
}
