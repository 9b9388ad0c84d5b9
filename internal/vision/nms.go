package vision

import "sort"

// NMS performs greedy non-maximum suppression over (x1, y1, x2, y2) boxes.
// Candidates are visited in score-descending order (ties broken toward the
// lower index); a candidate is suppressed when its IoU with an already kept
// box exceeds iouThreshold. Returns the kept indices in visit order.
func NMS(boxes, scores []float32, iouThreshold float32) []int64 {
	n := len(scores)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })

	suppressed := make([]bool, n)
	var keep []int64
	for _, i := range order {
		if suppressed[i] {
			continue
		}
		keep = append(keep, int64(i))
		for _, j := range order {
			if j == i || suppressed[j] {
				continue
			}
			if IoU(boxes[i*4:i*4+4], boxes[j*4:j*4+4]) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return keep
}

// BatchedNMS suppresses boxes per group: boxes in different groups never
// suppress each other. Implemented with the coordinate-offset trick so a
// single NMS pass preserves the global score ordering across groups.
func BatchedNMS(boxes, scores []float32, groups []int64, iouThreshold float32) []int64 {
	n := len(scores)
	if n == 0 {
		return nil
	}
	var maxCoord float32
	for _, v := range boxes {
		if v > maxCoord {
			maxCoord = v
		}
	}
	offset := maxCoord + 1
	shifted := make([]float32, len(boxes))
	for i := 0; i < n; i++ {
		d := float32(groups[i]) * offset
		shifted[i*4] = boxes[i*4] + d
		shifted[i*4+1] = boxes[i*4+1] + d
		shifted[i*4+2] = boxes[i*4+2] + d
		shifted[i*4+3] = boxes[i*4+3] + d
	}
	return NMS(shifted, scores, iouThreshold)
}
