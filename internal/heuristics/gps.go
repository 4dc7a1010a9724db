package heuristics

import (
	"context"
	"sort"

	"github.com/opensource-survey/kestrel/internal/domain"
	"github.com/opensource-survey/kestrel/internal/geo"
)

// GPSClustering detects suspicious spatial patterns. Max 25 points.
//
// Primary signal: the submission falls inside a DBSCAN cluster of the
// enumerator's own recent GPS fixes (60% of weight). Secondary signals:
// implausible travel speed between consecutive fixes (20%) and near-exact
// coordinate reuse by a different enumerator (20%).
type GPSClustering struct{}

func (h *GPSClustering) Key() string               { return "gps_clustering" }
func (h *GPSClustering) Category() domain.Category { return domain.CategoryGPS }

type gpsPoint struct {
	lat, lon float64
}

func (h *GPSClustering) Evaluate(ctx context.Context, sub *domain.SubmissionContext, thresholds []*domain.ThresholdConfig) (domain.HeuristicResult, error) {
	if !sub.HasGPS() {
		return domain.HeuristicResult{
			Score:   0,
			Details: map[string]any{"reason": "no_gps_data"},
		}, nil
	}

	lat := *sub.GPSLatitude
	lon := *sub.GPSLongitude

	clusterRadiusM := thresholdValue(thresholds, "gps_cluster_radius_m", 50)
	clusterMinSamples := int(thresholdValue(thresholds, "gps_cluster_min_samples", 3))
	teleportSpeedKmh := thresholdValue(thresholds, "gps_teleport_speed_kmh", 120)
	duplicateCoordThresholdM := thresholdValue(thresholds, "gps_duplicate_coord_threshold_m", 5)
	weight := thresholdValue(thresholds, "gps_weight", 25)

	var score float64
	flags := []string{}

	// Primary: DBSCAN over the enumerator's recent fixes plus this one.
	// The current submission is the last point, so its label tells us
	// whether it sits inside a cluster.
	var points []gpsPoint
	for _, s := range sub.RecentSubmissions {
		if s.HasGPS() {
			points = append(points, gpsPoint{*s.GPSLatitude, *s.GPSLongitude})
		}
	}
	points = append(points, gpsPoint{lat, lon})

	clusterCount := 0
	inCluster := false

	if len(points) >= clusterMinSamples {
		labels := dbscan(points, clusterRadiusM, clusterMinSamples)

		seen := map[int]bool{}
		for _, l := range labels {
			if l >= 0 {
				seen[l] = true
			}
		}
		clusterCount = len(seen)

		inCluster = labels[len(labels)-1] >= 0
		if inCluster {
			score += weight * 0.6
			flags = append(flags, "in_spatial_cluster")
		}
	}

	// Secondary: teleportation between consecutive fixes.
	teleportations := detectTeleportation(sub, teleportSpeedKmh)
	if len(teleportations) > 0 {
		score += weight * 0.2
		flags = append(flags, "teleportation_detected")
	}

	// Secondary: same spot reported by a different enumerator.
	duplicateCoords := detectDuplicateCoords(sub, lat, lon, duplicateCoordThresholdM)
	if len(duplicateCoords) > 0 {
		score += weight * 0.2
		flags = append(flags, "duplicate_coordinates")
	}

	if score > weight {
		score = weight
	}
	score = round2(score)

	return domain.HeuristicResult{
		Score: score,
		Details: map[string]any{
			"clusterCount":    clusterCount,
			"inCluster":       inCluster,
			"teleportations":  teleportations,
			"duplicateCoords": duplicateCoords,
			"flags":           flags,
			"gpsPointCount":   len(points),
			"thresholds": map[string]any{
				"clusterRadiusM":           clusterRadiusM,
				"clusterMinSamples":        clusterMinSamples,
				"teleportSpeedKmh":         teleportSpeedKmh,
				"duplicateCoordThresholdM": duplicateCoordThresholdM,
			},
		},
	}, nil
}

const (
	labelUnvisited = -2
	labelNoise     = -1
)

// dbscan labels each point with a cluster index (>= 0) or labelNoise.
// A point is a core point when it has at least minSamples-1 neighbors
// within epsilon meters (the point itself counts toward minSamples).
// Noise points reachable from a core point are absorbed as border points.
func dbscan(points []gpsPoint, epsilon float64, minSamples int) []int {
	n := len(points)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = labelUnvisited
	}

	regionQuery := func(idx int) []int {
		var neighbors []int
		p := points[idx]
		for i := 0; i < n; i++ {
			if i == idx {
				continue
			}
			if geo.HaversineDistance(p.lat, p.lon, points[i].lat, points[i].lon) <= epsilon {
				neighbors = append(neighbors, i)
			}
		}
		return neighbors
	}

	clusterID := 0
	for i := 0; i < n; i++ {
		if labels[i] != labelUnvisited {
			continue
		}

		neighbors := regionQuery(i)
		if len(neighbors) < minSamples-1 {
			labels[i] = labelNoise
			continue
		}

		labels[i] = clusterID
		seedSet := append([]int(nil), neighbors...)
		inSeedSet := make(map[int]bool, len(seedSet))
		for _, s := range seedSet {
			inSeedSet[s] = true
		}

		for j := 0; j < len(seedSet); j++ {
			q := seedSet[j]
			if labels[q] == labelNoise {
				// Border point
				labels[q] = clusterID
			}
			if labels[q] != labelUnvisited {
				continue
			}

			labels[q] = clusterID
			qNeighbors := regionQuery(q)
			if len(qNeighbors) >= minSamples-1 {
				for _, nb := range qNeighbors {
					if !inSeedSet[nb] {
						seedSet = append(seedSet, nb)
						inSeedSet[nb] = true
					}
				}
			}
		}

		clusterID++
	}

	return labels
}

type teleportation struct {
	From       string  `json:"from"`
	To         string  `json:"to"`
	SpeedKmh   float64 `json:"speedKmh"`
	DistanceKm float64 `json:"distanceKm"`
}

// detectTeleportation finds consecutive GPS fixes whose implied travel
// speed exceeds the threshold. Fixes are time-ordered; the current
// submission participates alongside the recent ones.
func detectTeleportation(sub *domain.SubmissionContext, speedThresholdKmh float64) []teleportation {
	type fix struct {
		at       int64
		atLabel  string
		lat, lon float64
	}

	var fixes []fix
	for _, s := range sub.RecentSubmissions {
		if s.HasGPS() {
			fixes = append(fixes, fix{
				at:      s.SubmittedAt.UnixMilli(),
				atLabel: s.SubmittedAt.UTC().Format("2006-01-02T15:04:05Z"),
				lat:     *s.GPSLatitude,
				lon:     *s.GPSLongitude,
			})
		}
	}
	fixes = append(fixes, fix{
		at:      sub.SubmittedAt.UnixMilli(),
		atLabel: sub.SubmittedAt.UTC().Format("2006-01-02T15:04:05Z"),
		lat:     *sub.GPSLatitude,
		lon:     *sub.GPSLongitude,
	})

	sort.Slice(fixes, func(i, j int) bool { return fixes[i].at < fixes[j].at })

	teleportations := []teleportation{}
	for i := 1; i < len(fixes); i++ {
		prev, curr := fixes[i-1], fixes[i]
		distMeters := geo.HaversineDistance(prev.lat, prev.lon, curr.lat, curr.lon)
		hours := float64(curr.at-prev.at) / 3_600_000

		if hours > 0 {
			speedKmh := (distMeters / 1000) / hours
			if speedKmh > speedThresholdKmh {
				teleportations = append(teleportations, teleportation{
					From:       prev.atLabel,
					To:         curr.atLabel,
					SpeedKmh:   round1(speedKmh),
					DistanceKm: round1(distMeters / 1000),
				})
			}
		}
	}

	return teleportations
}

type duplicateCoord struct {
	EnumeratorID   string  `json:"enumeratorId"`
	DistanceMeters float64 `json:"distanceMeters"`
	SubmissionID   string  `json:"submissionId"`
}

// detectDuplicateCoords finds nearby submissions from other enumerators
// within thresholdMeters of the current fix.
func detectDuplicateCoords(sub *domain.SubmissionContext, lat, lon, thresholdMeters float64) []duplicateCoord {
	duplicates := []duplicateCoord{}
	for _, s := range sub.NearbySubmissions {
		if s.EnumeratorID == sub.EnumeratorID || !s.HasGPS() {
			continue
		}
		dist := geo.HaversineDistance(lat, lon, *s.GPSLatitude, *s.GPSLongitude)
		if dist < thresholdMeters {
			duplicates = append(duplicates, duplicateCoord{
				EnumeratorID:   s.EnumeratorID,
				DistanceMeters: round1(dist),
				SubmissionID:   s.ID,
			})
		}
	}
	return duplicates
}
