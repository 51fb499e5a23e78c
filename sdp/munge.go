package sdp

import (
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
)

var randomSource = rand.Uint32

var (
	mLineRegex   = regexp.MustCompile(`^m=(\w+) `)
	fidLineRegex = regexp.MustCompile(`^a=ssrc-group:FID (\d+) (\d+)$`)
)

func insertLine(lines []string, index int, line string) []string {
	if len(lines) == index { // nil or empty slice or after last element
		return append(lines, line)
	}
	lines = append(lines[:index+1], lines[index:]...) // index < len(a)
	lines[index] = line
	return lines
}

func removeLine(lines []string, index int) []string {
	return append(lines[:index], lines[index+1:]...)
}

// MungeSimulcast rewrites the first video section of a local offer so that its
// FID pair becomes the lowest layer of a SIM group with layers FID pairs.
// Descriptions without a video FID group are returned unchanged.
func MungeSimulcast(description string, layers int) string {
	if layers < 2 {
		return description
	}
	lines := strings.Split(strings.TrimRight(description, "\r\n"), "\r\n")

	inVideo := false
	var ssrc, ssrcFid uint64
	var cname, msid string
	insertAt := -1
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if matches := mLineRegex.FindStringSubmatch(line); len(matches) > 0 {
			if inVideo {
				insertAt = i
				break
			}
			inVideo = matches[1] == "video"
			continue
		}
		if !inVideo {
			continue
		}
		if matches := fidLineRegex.FindStringSubmatch(line); len(matches) > 0 && ssrc == 0 {
			ssrc, _ = strconv.ParseUint(matches[1], 10, 32)
			ssrcFid, _ = strconv.ParseUint(matches[2], 10, 32)
			lines = removeLine(lines, i)
			i--
			continue
		}
		if ssrc == 0 {
			continue
		}
		for _, source := range []uint64{ssrc, ssrcFid} {
			prefix := fmt.Sprintf("a=ssrc:%v ", source)
			if !strings.HasPrefix(line, prefix) {
				continue
			}
			attribute := line[len(prefix):]
			if strings.HasPrefix(attribute, "cname:") {
				cname = attribute[len("cname:"):]
			}
			if strings.HasPrefix(attribute, "msid:") {
				msid = attribute[len("msid:"):]
			}
			lines = removeLine(lines, i)
			i--
			break
		}
	}
	if ssrc == 0 {
		return description
	}
	if insertAt < 0 {
		insertAt = len(lines)
	}

	ssrcs := []uint64{ssrc}
	fids := []uint64{ssrcFid}
	for i := 1; i < layers; i++ {
		ssrcs = append(ssrcs, uint64(randomSource()))
		fids = append(fids, uint64(randomSource()))
	}

	simSources := make([]string, len(ssrcs))
	for i := range ssrcs {
		simSources[i] = strconv.FormatUint(ssrcs[i], 10)
	}
	lines = insertLine(lines, insertAt, "a=ssrc-group:SIM "+strings.Join(simSources, " "))
	insertAt++
	for i := range ssrcs {
		lines = insertLine(lines, insertAt, fmt.Sprintf("a=ssrc-group:FID %v %v", ssrcs[i], fids[i]))
		insertAt++
	}
	for i := range ssrcs {
		for _, source := range []uint64{ssrcs[i], fids[i]} {
			if len(cname) > 0 {
				lines = insertLine(lines, insertAt, fmt.Sprintf("a=ssrc:%v cname:%v", source, cname))
				insertAt++
			}
			if len(msid) > 0 {
				lines = insertLine(lines, insertAt, fmt.Sprintf("a=ssrc:%v msid:%v", source, msid))
				insertAt++
			}
		}
	}
	return strings.Join(lines, "\r\n") + "\r\n"
}
