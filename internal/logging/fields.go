package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供拦截请求的 method/url/命中状态字段，供代理日志复用。
func RequestFields(method, url, generation string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"method":     method,
		"url":        url,
		"generation": generation,
		"cache_hit":  cacheHit,
	}
}

// BatchFields 提供预缓存批次字段，essential 区分必需批次与预加载批次。
func BatchFields(generation string, essential bool) logrus.Fields {
	kind := "preload"
	if essential {
		kind = "essential"
	}
	return logrus.Fields{
		"action":     "precache",
		"generation": generation,
		"batch":      kind,
	}
}

// LifecycleFields 提供生命周期阶段字段。
func LifecycleFields(phase, state string) logrus.Fields {
	return logrus.Fields{
		"action": "lifecycle",
		"phase":  phase,
		"state":  state,
	}
}
