package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// ConfigFileName is the JSON configuration file the extension looks for
// in the directory passed to Load.
const ConfigFileName = "bodytrack.cfg.json"

// JointNames holds the configurable joint-name mapping. Each name may be
// claimed by at most one enabled module; ValidateJointClaims enforces it.
type JointNames struct {
	Pelvis        string `mapstructure:"pelvis"`
	Spine         string `mapstructure:"spine"`
	WalkReference string `mapstructure:"walkReference"` // spine joint owned by the foot module
	Trunk         string `mapstructure:"trunk"`
	Head          string `mapstructure:"head"`
	Neck          string `mapstructure:"neck"`
	LeftShoulder  string `mapstructure:"leftShoulder"`
	RightShoulder string `mapstructure:"rightShoulder"`
	LeftHand      string `mapstructure:"leftHand"`
	RightHand     string `mapstructure:"rightHand"`
	LeftFoot      string `mapstructure:"leftFoot"`
	RightFoot     string `mapstructure:"rightFoot"`
	LeftForeArm   string `mapstructure:"leftForeArm"`
	RightForeArm  string `mapstructure:"rightForeArm"`
	LeftLeg       string `mapstructure:"leftLeg"`
	RightLeg      string `mapstructure:"rightLeg"`
	LeftToeBase   string `mapstructure:"leftToeBase"`
	RightToeBase  string `mapstructure:"rightToeBase"`
}

// TorsoConfig holds the torso module thresholds.
type TorsoConfig struct {
	Enabled                    bool
	Sensitivity                float64
	WeightShiftThreshold       float64
	NeutralZoneWidth           float64
	WholeBodyMovementThreshold float64
	BentOverAngleThreshold     float64
}

// WalkConfig holds the walk state machine thresholds.
type WalkConfig struct {
	Enabled         bool
	SpeedThreshold  float64
	StopThreshold   float64
	MinimumDuration time.Duration
}

// GaitConfig holds the step-event gait analysis thresholds.
type GaitConfig struct {
	Enabled               bool
	MinReasonableStepTime time.Duration
	MaxReasonableStepTime time.Duration
	MinimumCycles         int
	EventHistorySize      int
}

// FootConfig holds the foot/gait module thresholds.
type FootConfig struct {
	Enabled              bool
	Sensitivity          float64
	FootRaiseThreshold   float64
	MinLiftHeight        float64
	MinAbductionDistance float64
	RelativeTracking     bool
	Walk                 WalkConfig
	Gait                 GaitConfig
}

// ArmConfig holds the arm module thresholds.
type ArmConfig struct {
	Enabled            bool
	Sensitivity        float64
	HandRaiseThreshold float64
	HandRaiseMinHeight float64
	RelativeTracking   bool
}

// HeadMode selects between the two head gesture designs.
type HeadMode string

const (
	// HeadModeGesture is the discrete nod/shake detector with neutral
	// return and timeouts.
	HeadModeGesture HeadMode = "gesture"
	// HeadModeDirectional is the neck-relative up/down/left/right level
	// comparison, no hysteresis.
	HeadModeDirectional HeadMode = "directional"
)

// HeadConfig holds the head module thresholds.
type HeadConfig struct {
	Enabled                bool
	Sensitivity            float64
	Mode                   HeadMode
	NodThreshold           float64
	ShakeThreshold         float64
	NeutralReturnThreshold float64
	NodSpeed               time.Duration
	ShakeSpeed             time.Duration
	GestureTimeout         time.Duration
	UpThreshold            float64
	DownThreshold          float64
	LeftThreshold          float64
	RightThreshold         float64
}

// BalanceConfig holds the balance module thresholds.
type BalanceConfig struct {
	Enabled            bool
	Sensitivity        float64
	UseBaseOfSupport   bool
	SwayThreshold      float64
	StabilityThreshold float64
	HistorySize        int
}

// CalibrationConfig holds the coordinator's calibration timing.
type CalibrationConfig struct {
	SettleDelay time.Duration
	BodyStagger time.Duration
}

// TrackingConfig is the full per-session module configuration. It is
// built once from viper, shared read-only by every module, and swapped
// wholesale (with module re-creation) on config reload.
type TrackingConfig struct {
	Joints      JointNames
	Torso       TorsoConfig
	Foot        FootConfig
	Arm         ArmConfig
	Head        HeadConfig
	Balance     BalanceConfig
	Calibration CalibrationConfig
	Debug       bool
}

// MemoryConfig holds in-memory/JSON sink settings.
type MemoryConfig struct {
	OutputDir      string
	CompressOutput bool
}

// GormConfig holds the database sink settings.
type GormConfig struct {
	Driver string // "sqlite" or "postgres"
	Path   string // sqlite file path
	DSN    string // postgres DSN
}

// WebsocketConfig holds the websocket sink settings.
type WebsocketConfig struct {
	URL    string
	Secret string
}

// StorageConfig selects and configures the output sink.
type StorageConfig struct {
	Type      string // "memory", "gorm", "websocket"
	Memory    MemoryConfig
	Gorm      GormConfig
	Websocket WebsocketConfig
}

// Load reads configuration from the JSON file in configDir and sets
// default values. A missing file is not fatal: the caller gets an error
// to log, but every viper key already carries its default, so the
// extension runs with an all-defaults configuration (spec'd fallback
// for an absent configuration).
func Load(configDir string) error {
	setDefaults()

	viper.SetConfigName(ConfigFileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./bodytracklogs")
	viper.SetDefault("debug", false)

	viper.SetDefault("calibration.settleDelay", "2s")
	viper.SetDefault("calibration.bodyStagger", "250ms")

	viper.SetDefault("joints.pelvis", "Hips")
	viper.SetDefault("joints.spine", "Spine1")
	viper.SetDefault("joints.walkReference", "Spine")
	viper.SetDefault("joints.trunk", "Spine4")
	viper.SetDefault("joints.head", "Head")
	viper.SetDefault("joints.neck", "Neck")
	viper.SetDefault("joints.leftShoulder", "LeftShoulder")
	viper.SetDefault("joints.rightShoulder", "RightShoulder")
	viper.SetDefault("joints.leftHand", "LeftHand")
	viper.SetDefault("joints.rightHand", "RightHand")
	viper.SetDefault("joints.leftFoot", "LeftFoot")
	viper.SetDefault("joints.rightFoot", "RightFoot")
	viper.SetDefault("joints.leftForeArm", "LeftForeArm")
	viper.SetDefault("joints.rightForeArm", "RightForeArm")
	viper.SetDefault("joints.leftLeg", "LeftLeg")
	viper.SetDefault("joints.rightLeg", "RightLeg")
	viper.SetDefault("joints.leftToeBase", "LeftToeBase")
	viper.SetDefault("joints.rightToeBase", "RightToeBase")

	viper.SetDefault("torso.enabled", true)
	viper.SetDefault("torso.sensitivity", 1.0)
	viper.SetDefault("torso.weightShiftThreshold", 0.15)
	viper.SetDefault("torso.neutralZoneWidth", 0.05)
	viper.SetDefault("torso.wholeBodyMovementThreshold", 0.8)
	viper.SetDefault("torso.bentOverAngleThreshold", 30.0)

	viper.SetDefault("foot.enabled", true)
	viper.SetDefault("foot.sensitivity", 1.0)
	viper.SetDefault("foot.footRaiseThreshold", 0.1)
	viper.SetDefault("foot.minLiftHeight", 0.08)
	viper.SetDefault("foot.minAbductionDistance", 0.12)
	viper.SetDefault("foot.relativeTracking", true)
	viper.SetDefault("foot.walk.enabled", true)
	viper.SetDefault("foot.walk.speedThreshold", 0.3)
	viper.SetDefault("foot.walk.stopThreshold", 0.15)
	viper.SetDefault("foot.walk.minimumDuration", "500ms")
	viper.SetDefault("foot.gait.enabled", true)
	viper.SetDefault("foot.gait.minReasonableStepTime", "250ms")
	viper.SetDefault("foot.gait.maxReasonableStepTime", "2s")
	viper.SetDefault("foot.gait.minimumCycles", 3)
	viper.SetDefault("foot.gait.eventHistorySize", 20)

	viper.SetDefault("arm.enabled", true)
	viper.SetDefault("arm.sensitivity", 1.0)
	viper.SetDefault("arm.handRaiseThreshold", 0.2)
	viper.SetDefault("arm.handRaiseMinHeight", 0.15)
	viper.SetDefault("arm.relativeTracking", true)

	viper.SetDefault("head.enabled", true)
	viper.SetDefault("head.sensitivity", 1.0)
	viper.SetDefault("head.mode", "gesture")
	viper.SetDefault("head.nodThreshold", 15.0)
	viper.SetDefault("head.shakeThreshold", 15.0)
	viper.SetDefault("head.neutralReturnThreshold", 5.0)
	viper.SetDefault("head.nodSpeed", "600ms")
	viper.SetDefault("head.shakeSpeed", "600ms")
	viper.SetDefault("head.gestureTimeout", "2s")
	viper.SetDefault("head.directional.upThreshold", 10.0)
	viper.SetDefault("head.directional.downThreshold", 10.0)
	viper.SetDefault("head.directional.leftThreshold", 10.0)
	viper.SetDefault("head.directional.rightThreshold", 10.0)

	viper.SetDefault("balance.enabled", true)
	viper.SetDefault("balance.sensitivity", 1.0)
	viper.SetDefault("balance.useBaseOfSupport", true)
	viper.SetDefault("balance.swayThreshold", 0.1)
	viper.SetDefault("balance.stabilityThreshold", 0.3)
	viper.SetDefault("balance.historySize", 180)

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.memory.outputDir", "./sessions")
	viper.SetDefault("storage.memory.compressOutput", true)
	viper.SetDefault("storage.gorm.driver", "sqlite")
	viper.SetDefault("storage.gorm.path", "./bodytrack.db")
	viper.SetDefault("storage.gorm.dsn", "")
	viper.SetDefault("storage.websocket.url", "")
	viper.SetDefault("storage.websocket.secret", "")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "bodytrack-metrics")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "bodytrack-extension")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)
	viper.SetDefault("otel.batchTimeout", "5s")

	viper.SetDefault("monitor.enabled", true)
	viper.SetDefault("monitor.statusDir", ".")
}

// GetString returns a string config value.
func GetString(key string) string { return viper.GetString(key) }

// GetInt returns an int config value.
func GetInt(key string) int { return viper.GetInt(key) }

// GetBool returns a bool config value.
func GetBool(key string) bool { return viper.GetBool(key) }

// GetTrackingConfig builds the full module configuration from viper.
// Call setDefaults (via Load) first; callers that skip Load get the
// all-defaults configuration.
func GetTrackingConfig() *TrackingConfig {
	setDefaults()

	return &TrackingConfig{
		Joints: JointNames{
			Pelvis:        viper.GetString("joints.pelvis"),
			Spine:         viper.GetString("joints.spine"),
			WalkReference: viper.GetString("joints.walkReference"),
			Trunk:         viper.GetString("joints.trunk"),
			Head:          viper.GetString("joints.head"),
			Neck:          viper.GetString("joints.neck"),
			LeftShoulder:  viper.GetString("joints.leftShoulder"),
			RightShoulder: viper.GetString("joints.rightShoulder"),
			LeftHand:      viper.GetString("joints.leftHand"),
			RightHand:     viper.GetString("joints.rightHand"),
			LeftFoot:      viper.GetString("joints.leftFoot"),
			RightFoot:     viper.GetString("joints.rightFoot"),
			LeftForeArm:   viper.GetString("joints.leftForeArm"),
			RightForeArm:  viper.GetString("joints.rightForeArm"),
			LeftLeg:       viper.GetString("joints.leftLeg"),
			RightLeg:      viper.GetString("joints.rightLeg"),
			LeftToeBase:   viper.GetString("joints.leftToeBase"),
			RightToeBase:  viper.GetString("joints.rightToeBase"),
		},
		Torso: TorsoConfig{
			Enabled:                    viper.GetBool("torso.enabled"),
			Sensitivity:                viper.GetFloat64("torso.sensitivity"),
			WeightShiftThreshold:       viper.GetFloat64("torso.weightShiftThreshold"),
			NeutralZoneWidth:           viper.GetFloat64("torso.neutralZoneWidth"),
			WholeBodyMovementThreshold: viper.GetFloat64("torso.wholeBodyMovementThreshold"),
			BentOverAngleThreshold:     viper.GetFloat64("torso.bentOverAngleThreshold"),
		},
		Foot: FootConfig{
			Enabled:              viper.GetBool("foot.enabled"),
			Sensitivity:          viper.GetFloat64("foot.sensitivity"),
			FootRaiseThreshold:   viper.GetFloat64("foot.footRaiseThreshold"),
			MinLiftHeight:        viper.GetFloat64("foot.minLiftHeight"),
			MinAbductionDistance: viper.GetFloat64("foot.minAbductionDistance"),
			RelativeTracking:     viper.GetBool("foot.relativeTracking"),
			Walk: WalkConfig{
				Enabled:         viper.GetBool("foot.walk.enabled"),
				SpeedThreshold:  viper.GetFloat64("foot.walk.speedThreshold"),
				StopThreshold:   viper.GetFloat64("foot.walk.stopThreshold"),
				MinimumDuration: viper.GetDuration("foot.walk.minimumDuration"),
			},
			Gait: GaitConfig{
				Enabled:               viper.GetBool("foot.gait.enabled"),
				MinReasonableStepTime: viper.GetDuration("foot.gait.minReasonableStepTime"),
				MaxReasonableStepTime: viper.GetDuration("foot.gait.maxReasonableStepTime"),
				MinimumCycles:         viper.GetInt("foot.gait.minimumCycles"),
				EventHistorySize:      viper.GetInt("foot.gait.eventHistorySize"),
			},
		},
		Arm: ArmConfig{
			Enabled:            viper.GetBool("arm.enabled"),
			Sensitivity:        viper.GetFloat64("arm.sensitivity"),
			HandRaiseThreshold: viper.GetFloat64("arm.handRaiseThreshold"),
			HandRaiseMinHeight: viper.GetFloat64("arm.handRaiseMinHeight"),
			RelativeTracking:   viper.GetBool("arm.relativeTracking"),
		},
		Head: HeadConfig{
			Enabled:                viper.GetBool("head.enabled"),
			Sensitivity:            viper.GetFloat64("head.sensitivity"),
			Mode:                   HeadMode(viper.GetString("head.mode")),
			NodThreshold:           viper.GetFloat64("head.nodThreshold"),
			ShakeThreshold:         viper.GetFloat64("head.shakeThreshold"),
			NeutralReturnThreshold: viper.GetFloat64("head.neutralReturnThreshold"),
			NodSpeed:               viper.GetDuration("head.nodSpeed"),
			ShakeSpeed:             viper.GetDuration("head.shakeSpeed"),
			GestureTimeout:         viper.GetDuration("head.gestureTimeout"),
			UpThreshold:            viper.GetFloat64("head.directional.upThreshold"),
			DownThreshold:          viper.GetFloat64("head.directional.downThreshold"),
			LeftThreshold:          viper.GetFloat64("head.directional.leftThreshold"),
			RightThreshold:         viper.GetFloat64("head.directional.rightThreshold"),
		},
		Balance: BalanceConfig{
			Enabled:            viper.GetBool("balance.enabled"),
			Sensitivity:        viper.GetFloat64("balance.sensitivity"),
			UseBaseOfSupport:   viper.GetBool("balance.useBaseOfSupport"),
			SwayThreshold:      viper.GetFloat64("balance.swayThreshold"),
			StabilityThreshold: viper.GetFloat64("balance.stabilityThreshold"),
			HistorySize:        viper.GetInt("balance.historySize"),
		},
		Calibration: CalibrationConfig{
			SettleDelay: viper.GetDuration("calibration.settleDelay"),
			BodyStagger: viper.GetDuration("calibration.bodyStagger"),
		},
		Debug: viper.GetBool("debug"),
	}
}

// GetStorageConfig returns the sink configuration.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: viper.GetString("storage.type"),
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("storage.memory.outputDir"),
			CompressOutput: viper.GetBool("storage.memory.compressOutput"),
		},
		Gorm: GormConfig{
			Driver: viper.GetString("storage.gorm.driver"),
			Path:   viper.GetString("storage.gorm.path"),
			DSN:    viper.GetString("storage.gorm.dsn"),
		},
		Websocket: WebsocketConfig{
			URL:    viper.GetString("storage.websocket.url"),
			Secret: viper.GetString("storage.websocket.secret"),
		},
	}
}

// ValidateJointClaims checks that no joint name is claimed by more than
// one enabled module. Claims follow the per-module required-joint lists;
// a collision is a configuration error, caught once at load time rather
// than surfacing as confused signals at runtime.
func ValidateJointClaims(cfg *TrackingConfig) error {
	claims := map[string]string{}

	claim := func(module, joint string) error {
		if joint == "" {
			return fmt.Errorf("module %s has an empty joint name", module)
		}
		if owner, taken := claims[joint]; taken {
			return fmt.Errorf("joint %q claimed by both %s and %s", joint, owner, module)
		}
		claims[joint] = module
		return nil
	}

	j := cfg.Joints
	if cfg.Torso.Enabled {
		for _, name := range []string{j.Pelvis, j.Spine} {
			if err := claim("torso", name); err != nil {
				return err
			}
		}
	}
	if cfg.Foot.Enabled {
		names := []string{j.LeftFoot, j.RightFoot}
		if cfg.Foot.Walk.Enabled || cfg.Foot.Gait.Enabled {
			names = append(names, j.WalkReference)
		}
		for _, name := range names {
			if err := claim("foot", name); err != nil {
				return err
			}
		}
	}
	if cfg.Arm.Enabled {
		for _, name := range []string{j.LeftHand, j.RightHand, j.LeftShoulder, j.RightShoulder} {
			if err := claim("arm", name); err != nil {
				return err
			}
		}
	}
	if cfg.Head.Enabled {
		names := []string{j.Head}
		if cfg.Head.Mode == HeadModeDirectional {
			names = append(names, j.Neck)
		}
		for _, name := range names {
			if err := claim("head", name); err != nil {
				return err
			}
		}
	}
	if cfg.Balance.Enabled {
		names := []string{j.Trunk, j.LeftForeArm, j.RightForeArm, j.LeftLeg, j.RightLeg}
		if cfg.Balance.UseBaseOfSupport {
			names = append(names, j.LeftToeBase, j.RightToeBase)
		}
		for _, name := range names {
			if err := claim("balance", name); err != nil {
				return err
			}
		}
	}
	return nil
}
