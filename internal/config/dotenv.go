package config

import (
	"os"

	"github.com/joho/godotenv"
)

// LoadDotEnv 加载 .env 文件中的环境变量（文件不存在时忽略，已有变量不会被覆盖）
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}
