package diff

import "bytes"

// SplitLines splits data after every newline. The terminators stay on the
// lines, so joining the result gives data back.
func SplitLines(data []byte) [][]byte {
    var lines [][]byte
    for len(data) > 0 {
        i := bytes.IndexByte(data, '\n')
        if i < 0 {
            lines = append(lines, data)
            break
        }
        lines = append(lines, data[:i+1])
        data = data[i+1:]
    }
    return lines
}

func joinLines(lines [][]byte) []byte {
    var buf bytes.Buffer
    for _, l := range lines {
        buf.Write(l)
    }
    return buf.Bytes()
}

// buildLCSMatrix returns m where m[i][j] is the LCS length of a[i:] and
// b[j:]. Filling from the end lets callers walk the script forwards.
func buildLCSMatrix(a, b [][]byte) [][]int {
    matrix := make([][]int, len(a)+1)
    for i := range matrix {
        matrix[i] = make([]int, len(b)+1)
    }

    for i := len(a) - 1; i >= 0; i-- {
        for j := len(b) - 1; j >= 0; j-- {
            if bytes.Equal(a[i], b[j]) {
                matrix[i][j] = matrix[i+1][j+1] + 1
            } else {
                matrix[i][j] = max(matrix[i+1][j], matrix[i][j+1])
            }
        }
    }

    return matrix
}

// matchLines maps each index of a that takes part in the LCS to its
// partner in b.
func matchLines(a, b [][]byte) map[int]int {
    lcs := buildLCSMatrix(a, b)
    matches := make(map[int]int)
    i, j := 0, 0
    for i < len(a) && j < len(b) {
        switch {
        case bytes.Equal(a[i], b[j]):
            matches[i] = j
            i++
            j++
        case lcs[i+1][j] >= lcs[i][j+1]:
            i++
        default:
            j++
        }
    }
    return matches
}

func equalChunks(a, b [][]byte) bool {
    if len(a) != len(b) {
        return false
    }
    for i := range a {
        if !bytes.Equal(a[i], b[i]) {
            return false
        }
    }
    return true
}
