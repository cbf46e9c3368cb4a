package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"landrop/logger"
)

// FileConfig YAML配置文件中允许修改的设置项
type FileConfig struct {
	AppName         string `yaml:"appName"`
	Port            int    `yaml:"port"`
	Version         string `yaml:"version"`
	SharedDir       string `yaml:"sharedDir"`
	TokenExpiryTime int    `yaml:"tokenExpiryTime"` // 小时
	LogLevel        string `yaml:"logLevel"`
}

// ReadFileConfig 读取YAML配置文件
func ReadFileConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	cfg := &FileConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	return cfg, nil
}

func orString(value, defaultValue string) string {
	if value == "" {
		return defaultValue
	}
	return value
}

func orInt(value, defaultValue int) int {
	if value <= 0 {
		return defaultValue
	}
	return value
}

// portOr 返回端口的字符串形式，未配置时返回默认值
func (f *FileConfig) portOr(defaultValue string) string {
	if f.Port <= 0 {
		return defaultValue
	}
	return strconv.Itoa(f.Port)
}

// WatchFile 监听配置文件变更，文件写入后重新解析并回调
func WatchFile(ctx context.Context, path string, onChange func(*FileConfig)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("创建配置文件监听失败: %w", err)
	}
	// 监听目录而不是文件，编辑器保存时常常是重命名替换
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("监听配置目录失败: %w", err)
	}

	target := filepath.Clean(path)
	go func() {
		defer watcher.Close()
		var debounce <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					debounce = time.After(200 * time.Millisecond)
				}
			case <-debounce:
				debounce = nil
				cfg, err := ReadFileConfig(path)
				if err != nil {
					logger.L().Warn("重新加载配置文件失败", zap.Error(err))
					continue
				}
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.L().Warn("配置文件监听错误", zap.Error(err))
			}
		}
	}()
	return nil
}
