package coco

import "github.com/pkg/errors"

// mscocoCategoryIDs lists the 80 category ids used by the MSCOCO detection
// annotations. Their position is the contiguous training label.
var mscocoCategoryIDs = []int64{
	1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 13, 14, 15, 16, 17, 18, 19, 20, 21,
	22, 23, 24, 25, 27, 28, 31, 32, 33, 34, 35, 36, 37, 38, 39, 40, 41, 42, 43, 44,
	46, 47, 48, 49, 50, 51, 52, 53, 54, 55, 56, 57, 58, 59, 60, 61, 62, 63, 64, 65,
	67, 70, 72, 73, 74, 75, 76, 77, 78, 79, 80, 81, 82, 84, 85, 86, 87, 88, 89, 90,
}

var (
	mscocoCategoryToLabel = make(map[int64]int64, len(mscocoCategoryIDs))
	mscocoLabelToCategory = make(map[int64]int64, len(mscocoCategoryIDs))
)

func init() {
	for label, id := range mscocoCategoryIDs {
		mscocoCategoryToLabel[id] = int64(label)
		mscocoLabelToCategory[int64(label)] = id
	}
}

// CategoryToLabel maps an MSCOCO category id to its contiguous label in [0, 80)
func CategoryToLabel(categoryID int64) (int64, error) {
	label, ok := mscocoCategoryToLabel[categoryID]
	if !ok {
		return 0, errors.Errorf("category id %d is not an MSCOCO category", categoryID)
	}
	return label, nil
}

// LabelToCategory is the inverse of CategoryToLabel
func LabelToCategory(label int64) (int64, error) {
	id, ok := mscocoLabelToCategory[label]
	if !ok {
		return 0, errors.Errorf("label %d is out of the MSCOCO label range", label)
	}
	return id, nil
}

// NumMSCOCOLabels is the number of contiguous labels produced by the remap
func NumMSCOCOLabels() int {
	return len(mscocoCategoryIDs)
}
