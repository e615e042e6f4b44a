package diff

// Merge3 merges two descendants of base line by line. Regions where only
// one side differs from base take that side; regions where both sides made
// the same change take it once. ok is false as soon as both sides changed
// the same region differently.
func Merge3(base, left, right []byte) ([]byte, bool) {
    b := SplitLines(base)
    l := SplitLines(left)
    r := SplitLines(right)

    leftMatches := matchLines(b, l)
    rightMatches := matchLines(b, r)

    var out [][]byte
    bi, li, ri := 0, 0, 0
    for {
        // Next base line kept unchanged by both sides.
        stable := -1
        for k := bi; k < len(b); k++ {
            lk, lok := leftMatches[k]
            rk, rok := rightMatches[k]
            if lok && rok && lk >= li && rk >= ri {
                stable = k
                break
            }
        }

        bEnd, lEnd, rEnd := len(b), len(l), len(r)
        if stable >= 0 {
            bEnd, lEnd, rEnd = stable, leftMatches[stable], rightMatches[stable]
        }

        chunk, ok := mergeChunk(b[bi:bEnd], l[li:lEnd], r[ri:rEnd])
        if !ok {
            return nil, false
        }
        out = append(out, chunk...)

        if stable < 0 {
            break
        }
        out = append(out, b[stable])
        bi, li, ri = stable+1, lEnd+1, rEnd+1
    }
    return joinLines(out), true
}

func mergeChunk(base, left, right [][]byte) ([][]byte, bool) {
    switch {
    case equalChunks(left, right):
        return left, true
    case equalChunks(left, base):
        return right, true
    case equalChunks(right, base):
        return left, true
    }
    return nil, false
}
