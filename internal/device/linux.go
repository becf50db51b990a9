package device

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"satsuei/internal/media"
)

// LinuxEnumerator はLinux環境でのデバイス検出を実装する
type LinuxEnumerator struct {
	// positions はデバイスパスごとのカメラの向きの設定
	positions map[string]media.Position
	// names はデバイスパスごとの表示名の上書き
	names map[string]string

	videoGlob string
	pcmFile   string
}

// NewLinuxEnumerator は新しいLinuxEnumeratorを作成する
//
// positions に含まれないカメラは、検出順で1台目を前面、2台目を背面とみなす。
func NewLinuxEnumerator(positions map[string]media.Position, names map[string]string) *LinuxEnumerator {
	if positions == nil {
		positions = make(map[string]media.Position)
	}
	if names == nil {
		names = make(map[string]string)
	}
	return &LinuxEnumerator{
		positions: positions,
		names:     names,
		videoGlob: "/dev/video*",
		pcmFile:   "/proc/asound/pcm",
	}
}

// Devices は指定メディア種別の利用可能なデバイス一覧を返す
func (e *LinuxEnumerator) Devices(ctx context.Context, mediaType media.MediaType) ([]Device, error) {
	switch mediaType {
	case media.MediaTypeVideo:
		return e.scanVideo(ctx)
	case media.MediaTypeAudio:
		return e.scanAudio(ctx)
	default:
		return nil, fmt.Errorf("不明なメディア種別: %v", mediaType)
	}
}

// DefaultDevice は指定メディア種別の既定のデバイスを返す
func (e *LinuxEnumerator) DefaultDevice(ctx context.Context, mediaType media.MediaType) (*Device, error) {
	devices, err := e.Devices(ctx, mediaType)
	if err != nil {
		return nil, err
	}
	return defaultOf(devices, mediaType)
}

// IsDeviceAvailable は指定IDのデバイスが利用可能かチェックする
func (e *LinuxEnumerator) IsDeviceAvailable(ctx context.Context, id string) bool {
	if strings.HasPrefix(id, "hw:") {
		devices, err := e.scanAudio(ctx)
		if err != nil {
			return false
		}
		for _, d := range devices {
			if d.ID == id {
				return true
			}
		}
		return false
	}
	return isVideoNodeAvailable(id)
}

// scanVideo は /dev/video* からカメラを検出する
func (e *LinuxEnumerator) scanVideo(ctx context.Context) ([]Device, error) {
	matches, err := filepath.Glob(e.videoGlob)
	if err != nil {
		return nil, fmt.Errorf("デバイスのスキャンに失敗: %w", err)
	}

	// デバイス番号でソート
	sort.Slice(matches, func(i, j int) bool {
		return extractDeviceNumber(matches[i]) < extractDeviceNumber(matches[j])
	})

	var devices []Device
	for _, path := range matches {
		select {
		case <-ctx.Done():
			return devices, ctx.Err()
		default:
		}

		if !isVideoNodeAvailable(path) {
			continue
		}

		formats := listFormats(ctx, path)
		if !hasColorFormat(formats) {
			continue
		}
		// 同じ物理カメラの複数チャンネルは最小番号のみ採用
		if e.hasLowerSibling(ctx, path) {
			continue
		}

		devices = append(devices, Device{
			ID:        path,
			Name:      e.videoName(path),
			Path:      path,
			Driver:    DriverV4L2,
			MediaType: media.MediaTypeVideo,
			Formats:   formats,
			Resolutions: []Resolution{
				{Width: 640, Height: 480},
				{Width: 1280, Height: 720},
				{Width: 1920, Height: 1080},
			},
		})
	}

	assignPositions(devices, e.positions)
	return devices, nil
}

// scanAudio は /proc/asound/pcm からキャプチャ可能なPCMデバイスを検出する
func (e *LinuxEnumerator) scanAudio(_ context.Context) ([]Device, error) {
	f, err := os.Open(e.pcmFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("PCM一覧の読み込みに失敗: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	devices, err := parseASoundPCM(f)
	if err != nil {
		return nil, err
	}
	for i := range devices {
		if name, ok := e.names[devices[i].Path]; ok {
			devices[i].Name = name
		}
	}
	return devices, nil
}

// parseASoundPCM は /proc/asound/pcm の内容からキャプチャデバイスを抽出する
//
// 行の形式: "00-00: ALC892 Analog : ALC892 Analog : playback 1 : capture 1"
func parseASoundPCM(r io.Reader) ([]Device, error) {
	var devices []Device

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.Contains(line, "capture") {
			continue
		}

		parts := strings.Split(line, ":")
		if len(parts) < 2 {
			continue
		}

		ids := strings.SplitN(strings.TrimSpace(parts[0]), "-", 2)
		if len(ids) != 2 {
			continue
		}
		card, err1 := strconv.Atoi(ids[0])
		dev, err2 := strconv.Atoi(ids[1])
		if err1 != nil || err2 != nil {
			continue
		}

		path := fmt.Sprintf("hw:%d,%d", card, dev)
		devices = append(devices, Device{
			ID:        path,
			Name:      strings.TrimSpace(parts[1]),
			Path:      path,
			Driver:    DriverALSA,
			MediaType: media.MediaTypeAudio,
			Position:  media.PositionUnspecified,
			Formats:   []string{media.FormatS16LE},
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("PCM一覧の解析に失敗: %w", err)
	}
	return devices, nil
}

// assignPositions は設定または検出順からカメラの向きを決める
func assignPositions(devices []Device, positions map[string]media.Position) {
	taken := make(map[media.Position]bool)
	for i := range devices {
		if p, ok := positions[devices[i].Path]; ok {
			devices[i].Position = p
			taken[p] = true
		}
	}

	for i := range devices {
		if _, ok := positions[devices[i].Path]; ok {
			continue
		}
		switch {
		case !taken[media.PositionFront]:
			devices[i].Position = media.PositionFront
		case !taken[media.PositionBack]:
			devices[i].Position = media.PositionBack
		default:
			devices[i].Position = media.PositionUnspecified
		}
		taken[devices[i].Position] = true
	}
}

// isVideoNodeAvailable はV4L2デバイスノードが開けるかチェックする
func isVideoNodeAvailable(path string) bool {
	if matched, _ := regexp.MatchString(`^/dev/video\d+$`, path); !matched {
		return false
	}

	file, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return false
	}
	_ = file.Close()
	return true
}

// videoName はv4l2-ctlまたは設定から表示名を決める
func (e *LinuxEnumerator) videoName(path string) string {
	if name, ok := e.names[path]; ok {
		return name
	}
	if realName := v4l2CardName(path); realName != "" {
		return realName
	}
	return fmt.Sprintf("カメラ %d", extractDeviceNumber(path))
}

// hasLowerSibling は同名でより小さい番号のカラーデバイスがあるかチェックする
func (e *LinuxEnumerator) hasLowerSibling(ctx context.Context, path string) bool {
	name := v4l2CardName(path)
	if name == "" {
		return false
	}

	for i := 0; i < extractDeviceNumber(path); i++ {
		sibling := fmt.Sprintf("/dev/video%d", i)
		if !isVideoNodeAvailable(sibling) {
			continue
		}
		if hasColorFormat(listFormats(ctx, sibling)) && v4l2CardName(sibling) == name {
			return true
		}
	}
	return false
}

// v4l2CardName はv4l2-ctlを使って実際のデバイス名を取得する
func v4l2CardName(path string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	output, err := exec.CommandContext(ctx, "v4l2-ctl", "--device", path, "--info").Output()
	if err != nil {
		return ""
	}
	return parseCardType(string(output))
}

// parseCardType は v4l2-ctl --info の出力から "Card type" を抽出する
func parseCardType(output string) string {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Card type") {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) == 2 {
			return strings.TrimSpace(parts[1])
		}
	}
	return ""
}

// listFormats は v4l2-ctl --list-formats-ext からピクセルフォーマットを取得する
func listFormats(ctx context.Context, path string) []string {
	output, err := exec.CommandContext(ctx, "v4l2-ctl", "--device", path, "--list-formats-ext").Output()
	if err != nil {
		return nil
	}
	return parseFormats(string(output))
}

// parseFormats は "[0]: 'MJPG' (Motion-JPEG, compressed)" 形式の行からフォーマット名を抽出する
func parseFormats(output string) []string {
	re := regexp.MustCompile(`\[\d+\]:\s*'([A-Z0-9 ]+)'`)

	var formats []string
	seen := make(map[string]bool)
	for _, m := range re.FindAllStringSubmatch(output, -1) {
		f := strings.TrimSpace(m[1])
		if !seen[f] {
			seen[f] = true
			formats = append(formats, f)
		}
	}
	return formats
}

// hasColorFormat はカラーフォーマットを含むかチェックする
// グレースケールのみのデバイス（IRカメラ等）は除外する
func hasColorFormat(formats []string) bool {
	for _, f := range formats {
		if f == "YUYV" || f == "MJPG" {
			return true
		}
	}
	return false
}

// extractDeviceNumber はデバイスパスから番号を抽出する
func extractDeviceNumber(device string) int {
	re := regexp.MustCompile(`video(\d+)`)
	matches := re.FindStringSubmatch(device)
	if len(matches) < 2 {
		return 0
	}

	num, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0
	}
	return num
}
