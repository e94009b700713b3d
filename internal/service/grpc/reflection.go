package grpcsvc

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"
	reflectionpb "google.golang.org/grpc/reflection/grpc_reflection_v1"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
)

// describedServices отдаёт reflection только сервисы, чей дескриптор есть в реестре
// protobuf. CartService работает на json-кодеке и дескриптора не имеет.
type describedServices struct {
	services reflection.ServiceInfoProvider
	files    *protoregistry.Files
}

func (d describedServices) GetServiceInfo() map[string]grpc.ServiceInfo {
	all := d.services.GetServiceInfo()
	described := make(map[string]grpc.ServiceInfo, len(all))
	for name, info := range all {
		if _, err := d.files.FindDescriptorByName(protoreflect.FullName(name)); err == nil {
			described[name] = info
		}
	}
	return described
}

// RegisterReflection подключает gRPC reflection v1 для health и самой reflection.
func RegisterReflection(server *grpc.Server) {
	files := protoregistry.GlobalFiles
	reflectionpb.RegisterServerReflectionServer(server, reflection.NewServerV1(reflection.ServerOptions{
		Services:           describedServices{services: server, files: files},
		DescriptorResolver: files,
	}))
}
